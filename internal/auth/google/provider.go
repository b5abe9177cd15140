// Package google implements Google identity federation for the logon flow.
// It exchanges the authorization code produced by the browser-side Google
// Identity Services popup and verifies the returned ID token against Google's
// published keys.
package google

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/config"
)

// Provider exchanges Google authorization codes for verified identity claims.
type Provider struct {
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
}

// NewProvider initializes the Google provider, performing OIDC discovery
// against the configured issuer. The context bounds the discovery request.
//
// The redirect URI is the literal "postmessage": the authorization code is
// produced by Google Identity Services in popup mode, which uses that
// placeholder instead of a registered redirect URL.
func NewProvider(ctx context.Context, cfg *config.GoogleConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("Google logon is not enabled")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("Google client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("Google client secret is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover Google OIDC configuration: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  "postmessage",
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	return &Provider{
		verifier: verifier,
		config:   oauth2Config,
	}, nil
}

// ExchangeForClaim exchanges the authorization code for tokens, verifies the
// ID token (signature, expiry, audience = client ID), and extracts the
// identity claim. Any failure along the way is an error; an unverified
// assertion is never returned.
func (p *Provider) ExchangeForClaim(ctx context.Context, code string) (*auth.IdentityClaim, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("authentication failed: token response did not include an id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	return &auth.IdentityClaim{
		Name:          claims.Name,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}
