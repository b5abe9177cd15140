package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
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
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/captcha"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/db/repositories"
	"github.com/taskhive/taskhive/internal/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("TH_JWT_SECRET", "test-jwt-secret-that-is-32-chars!!")
	os.Exit(m.Run())
}

const bypassSecret = "test-bypass"

// stubIdentity satisfies auth.IdentityProvider for federation tests.
type stubIdentity struct {
	claim *auth.IdentityClaim
	err   error
}

func (s *stubIdentity) ExchangeForClaim(ctx context.Context, code string) (*auth.IdentityClaim, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claim, nil
}

type fixture struct {
	handlers *Handlers
	mock     sqlmock.Sqlmock
	router   *gin.Engine
}

func newFixture(t *testing.T, google auth.IdentityProvider) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{Environment: config.EnvTest}
	cfg.Auth.SessionTTL = time.Hour
	cfg.Auth.Captcha.BypassSecret = bypassSecret
	cfg.Auth.Captcha.VerifyURL = "http://127.0.0.1:1/siteverify" // unreachable; tests use the bypass

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	h := NewHandlers(
		cfg,
		repositories.NewUserRepository(db),
		services.NewProvisioner(sqlxDB),
		google,
		captcha.NewVerifier(&cfg.Auth.Captcha),
		audit.NewRecorder(nil),
	)

	r := gin.New()
	r.POST("/api/users/register", h.Register)
	r.POST("/api/users/logon", h.Logon)
	r.POST("/api/users/googleLogon", h.GoogleLogon)
	r.POST("/api/users/logoff", h.Logoff)

	return &fixture{handlers: h, mock: mock, router: r}
}

func (f *fixture) post(t *testing.T, path string, body gin.H, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func bypassHeaders() map[string]string {
	return map[string]string{captcha.BypassHeader: bypassSecret}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// validHash is a real scrypt record for the password "correct-horse".
var validHash string

func init() {
	var err error
	validHash, err = auth.HashPassword("correct-horse")
	if err != nil {
		panic(err)
	}
}

var userCols = []string{"id", "email", "name", "password", "federated", "last_logon_at", "created_at", "updated_at"}

func aliceRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow(int64(1), "alice@example.com", "Alice", validHash, false, nil, time.Now(), time.Now())
}

func expectProvision(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(7), time.Now(), time.Now()))
	taskRows := sqlmock.NewRows([]string{"id", "user_id", "title", "is_completed", "priority", "created_at"}).
		AddRow(int64(100), int64(7), "Complete your profile", false, "medium", time.Now()).
		AddRow(int64(101), int64(7), "Add your first task", false, "high", time.Now()).
		AddRow(int64(102), int64(7), "Explore the app", false, "low", time.Now())
	mock.ExpectQuery("INSERT INTO tasks").WillReturnRows(taskRows)
	mock.ExpectCommit()
}

// =============================================================================
// Register
// =============================================================================

func TestRegister_Success(t *testing.T) {
	f := newFixture(t, nil)
	expectProvision(f.mock)

	w := f.post(t, "/api/users/register", gin.H{
		"name": "Bob", "email": "bob@x.com", "password": "pw1234567",
	}, bypassHeaders())

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)

	user := body["user"].(map[string]interface{})
	assert.Equal(t, "bob@x.com", user["email"])
	assert.Equal(t, "Bob", user["name"])
	assert.NotContains(t, user, "id")
	assert.Len(t, body["welcomeTasks"], 3)
	assert.Equal(t, "success", body["transactionStatus"])
	assert.NotEmpty(t, body["csrfToken"])

	cookie := w.Header().Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(cookie, "jwt="), "Set-Cookie = %q", cookie)
}

func TestRegister_BotGateRejects(t *testing.T) {
	f := newFixture(t, nil)

	// No CAPTCHA token and no bypass header.
	w := f.post(t, "/api/users/register", gin.H{
		"name": "Bob", "email": "bob@x.com", "password": "pw1234567",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "person or a bot")
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

func TestRegister_WrongBypassSecret(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, "/api/users/register", gin.H{
		"name": "Bob", "email": "bob@x.com", "password": "pw1234567",
	}, map[string]string{captcha.BypassHeader: "wrong"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body gin.H
		want string
	}{
		{"missing name", gin.H{"email": "bob@x.com", "password": "pw1234567"}, "Name"},
		{"bad email", gin.H{"name": "Bob", "email": "not-an-email", "password": "pw1234567"}, "email"},
		{"short password", gin.H{"name": "Bob", "email": "bob@x.com", "password": "short"}, "8 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			w := f.post(t, "/api/users/register", tt.body, bypassHeaders())
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})
	f.mock.ExpectRollback()

	w := f.post(t, "/api/users/register", gin.H{
		"name": "Bob", "email": "bob@x.com", "password": "pw1234567",
	}, bypassHeaders())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Email already registered", body["error"])
}

func TestRegister_DBError(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO users").
		WillReturnError(errors.New("connection reset"))
	f.mock.ExpectRollback()

	w := f.post(t, "/api/users/register", gin.H{
		"name": "Bob", "email": "bob@x.com", "password": "pw1234567",
	}, bypassHeaders())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// =============================================================================
// Logon
// =============================================================================

func TestLogon_Success(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(aliceRow())
	// Async last-logon stamp may or may not land before the test ends.
	f.mock.MatchExpectationsInOrder(false)
	f.mock.ExpectExec("UPDATE users SET last_logon_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := f.post(t, "/api/users/logon", gin.H{
		"email": "alice@example.com", "password": "correct-horse",
	}, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "Alice", body["name"])
	assert.Equal(t, "alice@example.com", body["email"])
	assert.NotEmpty(t, body["csrfToken"])
	assert.True(t, strings.HasPrefix(w.Header().Get("Set-Cookie"), "jwt="))
}

func TestLogon_MissingFields(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, "/api/users/logon", gin.H{"email": "alice@example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "required")
}

func TestLogon_UnknownEmail(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(sqlmock.NewRows(userCols))

	w := f.post(t, "/api/users/logon", gin.H{
		"email": "nobody@example.com", "password": "whatever1",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Invalid credentials", body["message"])
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

func TestLogon_WrongPassword(t *testing.T) {
	f := newFixture(t, nil)
	f.mock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(aliceRow())

	w := f.post(t, "/api/users/logon", gin.H{
		"email": "alice@example.com", "password": "wrong-horse",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Invalid credentials", body["message"])
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

// =============================================================================
// Logoff
// =============================================================================

func TestLogoff_ClearsCookie(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, "/api/users/logoff", gin.H{}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	cookie := w.Header().Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(cookie, "jwt=;") || strings.HasPrefix(cookie, "jwt=\"\""), "Set-Cookie = %q", cookie)
	assert.Contains(t, cookie, "Max-Age=0")
}

// =============================================================================
// GoogleLogon
// =============================================================================

func verifiedClaim() *auth.IdentityClaim {
	return &auth.IdentityClaim{Name: "Alice", Email: "alice@example.com", EmailVerified: true}
}

func TestGoogleLogon_MissingCode(t *testing.T) {
	f := newFixture(t, &stubIdentity{claim: verifiedClaim()})

	w := f.post(t, "/api/users/googleLogon", gin.H{}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "code was not provided")
}

func TestGoogleLogon_ExchangeFailure(t *testing.T) {
	f := newFixture(t, &stubIdentity{err: errors.New("authentication failed")})

	w := f.post(t, "/api/users/googleLogon", gin.H{"code": "bad"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication failed.")
}

func TestGoogleLogon_ExchangeFailureHidesProviderDetail(t *testing.T) {
	// The exchange error wraps the provider's raw response; none of it may
	// reach the response body.
	upstream := errors.New(`oauth2: "invalid_grant" "token has expired: client 1234.apps.googleusercontent.com"`)
	f := newFixture(t, &stubIdentity{err: upstream})

	w := f.post(t, "/api/users/googleLogon", gin.H{"code": "stale"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Authentication failed.", body["message"])
	assert.NotContains(t, w.Body.String(), "invalid_grant")
	assert.NotContains(t, w.Body.String(), "googleusercontent")
}

func TestGoogleLogon_UnverifiedEmail(t *testing.T) {
	claim := verifiedClaim()
	claim.EmailVerified = false
	f := newFixture(t, &stubIdentity{claim: claim})

	w := f.post(t, "/api/users/googleLogon", gin.H{"code": "good"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "verified")
}

func TestGoogleLogon_MissingName(t *testing.T) {
	claim := verifiedClaim()
	claim.Name = ""
	f := newFixture(t, &stubIdentity{claim: claim})

	w := f.post(t, "/api/users/googleLogon", gin.H{"code": "good"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "name")
}

func TestGoogleLogon_ExistingAccount(t *testing.T) {
	f := newFixture(t, &stubIdentity{claim: verifiedClaim()})
	f.mock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(aliceRow())

	w := f.post(t, "/api/users/googleLogon", gin.H{"code": "good"}, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "Alice", body["name"])
	assert.NotEmpty(t, body["csrfToken"])
	assert.True(t, strings.HasPrefix(w.Header().Get("Set-Cookie"), "jwt="))
}

func TestGoogleLogon_ProvisionsNewAccount(t *testing.T) {
	claim := &auth.IdentityClaim{Name: "Carol", Email: "carol@x.com", EmailVerified: true}
	f := newFixture(t, &stubIdentity{claim: claim})
	f.mock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(sqlmock.NewRows(userCols))
	expectProvision(f.mock)

	w := f.post(t, "/api/users/googleLogon", gin.H{"code": "good"}, nil)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "carol@x.com", user["email"])
	assert.Len(t, body["welcomeTasks"], 3)
	assert.NotEmpty(t, body["csrfToken"])
}

func TestGoogleLogon_ProvisionRaceFallsBackToLogon(t *testing.T) {
	f := newFixture(t, &stubIdentity{claim: verifiedClaim()})
	f.mock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(sqlmock.NewRows(userCols))
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})
	f.mock.ExpectRollback()
	f.mock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(aliceRow())

	w := f.post(t, "/api/users/googleLogon", gin.H{"code": "good"}, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "alice@example.com", body["email"])
}

func TestGoogleLogon_NotConfigured(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, "/api/users/googleLogon", gin.H{"code": "good"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
