// federation.go defines the capability surface shared by identity federation
// adapters. Each adapter turns a provider-specific authorization artifact into
// a verified identity claim; the caller decides what an account looks like.
package auth

import "context"

// IdentityClaim is the ephemeral result of a federation exchange. It is never
// persisted; it is consumed immediately to look up or provision an account.
type IdentityClaim struct {
	Name          string
	Email         string
	EmailVerified bool
}

// IdentityProvider exchanges an external provider's credential (an
// authorization code for Google) for a verified identity claim. Implementations
// must verify the provider's assertion cryptographically before returning it;
// a claim from this interface is trusted downstream.
type IdentityProvider interface {
	ExchangeForClaim(ctx context.Context, credential string) (*IdentityClaim, error)
}
