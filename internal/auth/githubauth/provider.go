// Package githubauth implements the GitHub OAuth flow used by the origin-admin
// subsystem. Unlike the Google adapter it does not prove an email address;
// the only thing the admin flow needs is the authenticated GitHub username,
// which is matched against a persisted allow-list.
package githubauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/taskhive/taskhive/internal/config"
)

const defaultAPIBaseURL = "https://api.github.com"

// Provider drives the GitHub authorization-code dance for admin logon.
type Provider struct {
	config     *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// NewProvider builds a GitHub provider. callbackURL is the absolute URL of
// the /origin/auth/github/callback route, derived from the server's public
// URL at startup.
func NewProvider(cfg *config.GitHubConfig, callbackURL string) (*Provider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("GitHub logon is not enabled")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("GitHub client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("GitHub client secret is required")
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     githuboauth.Endpoint,
			// The admin flow needs nothing beyond the public profile.
			Scopes: nil,
		},
		apiBaseURL: defaultAPIBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// AuthCodeURL returns the GitHub authorization URL carrying the given
// anti-forgery state value.
func (p *Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeForLogin exchanges the callback code for an access token and
// resolves the authenticated user's login name, lowercased for allow-list
// matching. The access token is used once here and discarded, never
// stored.
func (p *Provider) ExchangeForLogin(ctx context.Context, code string) (string, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/user", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch GitHub profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("GitHub profile request returned %d: %s", resp.StatusCode, body)
	}

	var profile struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("failed to decode GitHub profile: %w", err)
	}
	if profile.Login == "" {
		return "", fmt.Errorf("GitHub profile did not include a username")
	}

	return strings.ToLower(profile.Login), nil
}
