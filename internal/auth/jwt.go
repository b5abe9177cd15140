// jwt.go handles session token creation, signing, and verification using a
// shared secret, including lazy secret initialization and claims parsing.
// Every issued token embeds a fresh anti-forgery value; protected mutating
// routes require the client to echo that value in the X-CSRF-Token header
// (double-submit: the cookie carries the token, the header proves the request
// was not forged cross-site).
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTTL is the token lifetime used when the caller passes zero.
const DefaultSessionTTL = time.Hour

var (
	// jwtSecret holds the validated JWT secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// ErrInvalidSession is returned for any token that fails verification. Expired,
// tampered, and malformed tokens are deliberately indistinguishable to callers.
var ErrInvalidSession = errors.New("invalid or expired session")

// SessionClaims is the claim set carried by a session token.
type SessionClaims struct {
	UserID    int64  `json:"user_id"`
	CSRFToken string `json:"csrf_token"`
	jwt.RegisteredClaims
}

// isProductionEnv checks the deployment environment directly from the process
// environment (duplicated here to avoid an import cycle with config).
func isProductionEnv() bool {
	return os.Getenv("TH_ENVIRONMENT") == "production"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less secure but functional secret
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateJWTSecret checks that the JWT secret is properly configured.
// In production, this will fail if TH_JWT_SECRET is not set.
// Outside production, it will generate a random secret and log a warning.
// Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("TH_JWT_SECRET")

		if secret == "" {
			if !isProductionEnv() {
				jwtSecret = generateRandomSecret()
				log.Printf("WARNING: TH_JWT_SECRET not set. Using auto-generated secret for development.")
				log.Printf("WARNING: Sessions will not persist across restarts. Set TH_JWT_SECRET for persistent sessions.")
			} else {
				jwtSecretErr = errors.New("SECURITY ERROR: TH_JWT_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			log.Printf("WARNING: TH_JWT_SECRET is shorter than recommended 32 characters. Consider using a longer secret.")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated JWT secret.
// Panics if ValidateJWTSecret() hasn't been called or failed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// IssueSession mints a signed session token for the given account and returns
// it together with the plaintext anti-forgery value embedded in it. The CSRF
// value is a fresh UUID per issuance, unpredictable and never reused, and is
// returned separately because the caller must place it in the response body
// while the token itself travels in the cookie.
func IssueSession(userID int64, ttl time.Duration) (token string, csrfToken string, err error) {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}

	csrfToken = uuid.NewString()
	claims := &SessionClaims{
		UserID:    userID,
		CSRFToken: csrfToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "taskhive",
			Subject:   fmt.Sprintf("%d", userID),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(GetJWTSecret()))
	if err != nil {
		return "", "", err
	}

	return signed, csrfToken, nil
}

// ValidateSession parses and validates a session token. All failures collapse
// into ErrInvalidSession so the HTTP layer surfaces a uniform 401.
func ValidateSession(tokenString string) (*SessionClaims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.UserID == 0 || claims.CSRFToken == "" {
		return nil, ErrInvalidSession
	}

	return claims, nil
}
