package githubauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/taskhive/taskhive/internal/config"
)

// =============================================================================
// Test Helpers
// =============================================================================

func enabledConfig() *config.GitHubConfig {
	return &config.GitHubConfig{
		Enabled:      true,
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
	}
}

// newTestProvider points the provider's token endpoint and API base at the
// given test server so no real GitHub traffic occurs.
func newTestProvider(t *testing.T, server *httptest.Server) *Provider {
	t.Helper()

	p, err := NewProvider(enabledConfig(), "http://localhost:3000/origin/auth/github/callback")
	require.NoError(t, err)

	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:  server.URL + "/login/oauth/authorize",
		TokenURL: server.URL + "/login/oauth/access_token",
	}
	p.apiBaseURL = server.URL
	p.httpClient = server.Client()
	return p
}

// =============================================================================
// NewProvider
// =============================================================================

func TestNewProviderDisabled(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false

	_, err := NewProvider(cfg, "http://localhost/callback")
	assert.ErrorContains(t, err, "not enabled")
}

func TestNewProviderMissingCredentials(t *testing.T) {
	cfg := enabledConfig()
	cfg.ClientID = ""
	_, err := NewProvider(cfg, "http://localhost/callback")
	assert.ErrorContains(t, err, "client ID")

	cfg = enabledConfig()
	cfg.ClientSecret = ""
	_, err = NewProvider(cfg, "http://localhost/callback")
	assert.ErrorContains(t, err, "client secret")
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	p, err := NewProvider(enabledConfig(), "http://localhost:3000/origin/auth/github/callback")
	require.NoError(t, err)

	url := p.AuthCodeURL("state-abc123")
	assert.Contains(t, url, "github.com/login/oauth/authorize")
	assert.Contains(t, url, "state=state-abc123")
	assert.Contains(t, url, "client_id=test-client-id")
}

// =============================================================================
// ExchangeForLogin
// =============================================================================

func TestExchangeForLoginSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gho_testtoken","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_testtoken", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"login":"OctoCat","id":583231}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestProvider(t, server)

	login, err := p.ExchangeForLogin(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "octocat", login, "login should be lowercased for allow-list matching")
}

func TestExchangeForLoginBadCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestProvider(t, server)

	_, err := p.ExchangeForLogin(context.Background(), "bad-code")
	assert.ErrorContains(t, err, "authentication failed")
}

func TestExchangeForLoginProfileError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gho_testtoken","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"rate limited"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestProvider(t, server)

	_, err := p.ExchangeForLogin(context.Background(), "good-code")
	assert.ErrorContains(t, err, "403")
}

func TestExchangeForLoginEmptyUsername(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gho_testtoken","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":583231}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestProvider(t, server)

	_, err := p.ExchangeForLogin(context.Background(), "good-code")
	assert.ErrorContains(t, err, "username")
}

func TestExchangeForLoginContextCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"access_token":"gho_testtoken","token_type":"bearer"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestProvider(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.ExchangeForLogin(ctx, "good-code")
	assert.Error(t, err)
}
