package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/db/repositories"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// stubGitHub satisfies GitHubAuthenticator for handler tests.
type stubGitHub struct {
	login string
	err   error
}

func (s *stubGitHub) AuthCodeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (s *stubGitHub) ExchangeForLogin(ctx context.Context, code string) (string, error) {
	return s.login, s.err
}

type fixture struct {
	store  *MemoryStore
	mock   sqlmock.Sqlmock
	router *gin.Engine
}

func newFixture(t *testing.T, github GitHubAuthenticator) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewMemoryStore()
	h := NewHandlers(
		NewManager(store, config.EnvTest),
		github,
		repositories.NewOriginRepository(sqlx.NewDb(db, "sqlmock")),
		audit.NewRecorder(nil),
	)

	r := gin.New()
	h.RegisterRoutes(r)

	return &fixture{store: store, mock: mock, router: r}
}

// seedSession plants a session directly in the store and returns its ID.
func (f *fixture) seedSession(t *testing.T, session *Session) string {
	t.Helper()
	id := newSessionID()
	require.NoError(t, f.store.Save(context.Background(), id, session))
	return id
}

func (f *fixture) get(t *testing.T, path, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
	}
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) postForm(t *testing.T, path, sessionID string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
	}
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) loadSession(t *testing.T, id string) *Session {
	t.Helper()
	session, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session
}

// ============================================================
// Logon page
// ============================================================

func TestLogon_RendersSignIn(t *testing.T) {
	f := newFixture(t, &stubGitHub{})

	w := f.get(t, "/origin", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Sign in with GitHub")
}

func TestLogon_ShowsAndClearsFlashes(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Errors: []string{"GitHub logon failed."}})

	w := f.get(t, "/origin", id)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "GitHub logon failed.")

	// The flash is consumed; a reload shows a clean page.
	w = f.get(t, "/origin", id)
	assert.NotContains(t, w.Body.String(), "GitHub logon failed.")
}

func TestLogon_AdmittedSessionRedirectsToForm(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat", CSRF: "tok"})

	w := f.get(t, "/origin", id)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/origin/addOrigin", w.Header().Get("Location"))
}

// ============================================================
// OAuth dance
// ============================================================

func TestGitHubAuth_RedirectsWithSessionState(t *testing.T) {
	f := newFixture(t, &stubGitHub{})

	w := f.get(t, "/origin/auth/github", "")

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.Contains(t, location, "https://github.com/login/oauth/authorize?state=")

	// The state in the redirect matches the one pinned to the new session.
	var sessionID string
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			sessionID = cookie.Value
		}
	}
	require.NotEmpty(t, sessionID)
	session := f.loadSession(t, sessionID)
	assert.Equal(t, "https://github.com/login/oauth/authorize?state="+session.State, location)
}

func TestGitHubCallback_AdmitsAllowListedAccount(t *testing.T) {
	f := newFixture(t, &stubGitHub{login: "octocat"})
	id := f.seedSession(t, &Session{State: "nonce"})

	f.mock.ExpectQuery("SELECT id, username, created_at").
		WithArgs("octocat").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at"}).
			AddRow(1, "octocat", time.Now()))

	w := f.get(t, "/origin/auth/github/callback?code=good&state=nonce", id)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/origin/addOrigin", w.Header().Get("Location"))

	session := f.loadSession(t, id)
	assert.Equal(t, "octocat", session.Username)
	assert.NotEmpty(t, session.CSRF)
	assert.Empty(t, session.State)
}

func TestGitHubCallback_DeniesUnknownAccount(t *testing.T) {
	f := newFixture(t, &stubGitHub{login: "stranger"})
	id := f.seedSession(t, &Session{State: "nonce"})

	f.mock.ExpectQuery("SELECT id, username, created_at").
		WithArgs("stranger").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at"}))

	w := f.get(t, "/origin/auth/github/callback?code=good&state=nonce", id)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/origin", w.Header().Get("Location"))

	session := f.loadSession(t, id)
	assert.Empty(t, session.Username)
	assert.Contains(t, session.Errors, "Your GitHub account is not authorized to register origins.")
}

func TestGitHubCallback_StateMismatch(t *testing.T) {
	f := newFixture(t, &stubGitHub{login: "octocat"})
	id := f.seedSession(t, &Session{State: "nonce"})

	w := f.get(t, "/origin/auth/github/callback?code=good&state=forged", id)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/origin", w.Header().Get("Location"))

	session := f.loadSession(t, id)
	assert.Empty(t, session.Username)
	assert.Contains(t, session.Errors, "GitHub logon failed.")
}

func TestGitHubCallback_ExchangeFailure(t *testing.T) {
	f := newFixture(t, &stubGitHub{err: errors.New("bad code")})
	id := f.seedSession(t, &Session{State: "nonce"})

	w := f.get(t, "/origin/auth/github/callback?code=bad&state=nonce", id)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/origin", w.Header().Get("Location"))
	assert.Contains(t, f.loadSession(t, id).Errors, "GitHub logon failed.")
}

func TestGitHubCallback_NoSession(t *testing.T) {
	f := newFixture(t, &stubGitHub{login: "octocat"})

	w := f.get(t, "/origin/auth/github/callback?code=good&state=nonce", "")

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/origin", w.Header().Get("Location"))
}

// ============================================================
// Logoff
// ============================================================

func TestLogoff_DestroysSession(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat"})

	w := f.get(t, "/origin/logoff", id)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/origin", w.Header().Get("Location"))

	session, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, session)
}

// ============================================================
// Registration form
// ============================================================

func TestNewOrigin_RequiresAdmission(t *testing.T) {
	f := newFixture(t, &stubGitHub{})

	w := f.get(t, "/origin/addOrigin", "")

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/origin", w.Header().Get("Location"))
}

func TestNewOrigin_RendersForm(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat", CSRF: "form-token"})

	w := f.get(t, "/origin/addOrigin", id)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "octocat")
	assert.Contains(t, w.Body.String(), `value="form-token"`)
}

func TestCreateOrigin_Success(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat", CSRF: "form-token"})

	f.mock.ExpectQuery("INSERT INTO origins").
		WithArgs("https://app.example.com", "octocat").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

	w := f.postForm(t, "/origin/addOrigin", id, url.Values{
		"_csrf":     {"form-token"},
		"newOrigin": {"https://App.Example.COM/some/path"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "The origin https://app.example.com has been added.")
}

func TestCreateOrigin_CSRFMismatchIs401(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat", CSRF: "form-token"})

	w := f.postForm(t, "/origin/addOrigin", id, url.Values{
		"_csrf":     {"forged"},
		"newOrigin": {"https://app.example.com"},
	})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestCreateOrigin_EmptySessionCSRFFailsClosed(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat"})

	w := f.postForm(t, "/origin/addOrigin", id, url.Values{
		"_csrf":     {""},
		"newOrigin": {"https://app.example.com"},
	})

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrigin_RejectsNonHTTPS(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat", CSRF: "form-token"})

	w := f.postForm(t, "/origin/addOrigin", id, url.Values{
		"_csrf":     {"form-token"},
		"newOrigin": {"http://insecure.example.com"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "You can only register an origin starting with https:.")
}

func TestCreateOrigin_RejectsMalformed(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat", CSRF: "form-token"})

	w := f.postForm(t, "/origin/addOrigin", id, url.Values{
		"_csrf":     {"form-token"},
		"newOrigin": {"not a url"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "That was not a valid origin.")
}

func TestCreateOrigin_DuplicateIsInfoFlash(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat", CSRF: "form-token"})

	f.mock.ExpectQuery("INSERT INTO origins").
		WithArgs("https://app.example.com", "octocat").
		WillReturnError(&pq.Error{Code: "23505"})

	w := f.postForm(t, "/origin/addOrigin", id, url.Values{
		"_csrf":     {"form-token"},
		"newOrigin": {"https://app.example.com"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "The origin https://app.example.com was already registered.")
}

func TestCreateOrigin_DBErrorIsGenericFlash(t *testing.T) {
	f := newFixture(t, &stubGitHub{})
	id := f.seedSession(t, &Session{Username: "octocat", CSRF: "form-token"})

	f.mock.ExpectQuery("INSERT INTO origins").
		WithArgs("https://app.example.com", "octocat").
		WillReturnError(errors.New("connection reset"))

	w := f.postForm(t, "/origin/addOrigin", id, url.Values{
		"_csrf":     {"form-token"},
		"newOrigin": {"https://app.example.com"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "A server error occurred, and the origin was not added.")
}
