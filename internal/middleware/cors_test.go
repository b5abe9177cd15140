package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/taskhive/taskhive/internal/config"
)

type stubOriginSource struct {
	origins []string
	err     error
	calls   int
}

func (s *stubOriginSource) ListOriginValues(ctx context.Context) ([]string, error) {
	s.calls++
	return s.origins, s.err
}

func corsRouter(cfg *config.CORSConfig, source OriginSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware(cfg, source))
	r.GET("/resource", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doCORS(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/resource", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCORS_StaticOriginAllowed(t *testing.T) {
	cfg := &config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	r := corsRouter(cfg, nil)

	w := doCORS(r, http.MethodGet, "https://app.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_UnknownOriginGetsNoHeaders(t *testing.T) {
	cfg := &config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	r := corsRouter(cfg, nil)

	w := doCORS(r, http.MethodGet, "https://evil.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_DynamicOriginAllowed(t *testing.T) {
	source := &stubOriginSource{origins: []string{"https://dynamic.example.com"}}
	r := corsRouter(&config.CORSConfig{}, source)

	w := doCORS(r, http.MethodGet, "https://dynamic.example.com")
	assert.Equal(t, "https://dynamic.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_DynamicListIsCached(t *testing.T) {
	source := &stubOriginSource{origins: []string{"https://dynamic.example.com"}}
	r := corsRouter(&config.CORSConfig{}, source)

	doCORS(r, http.MethodGet, "https://dynamic.example.com")
	doCORS(r, http.MethodGet, "https://dynamic.example.com")
	assert.Equal(t, 1, source.calls)
}

func TestCORS_SourceErrorFailsClosed(t *testing.T) {
	source := &stubOriginSource{err: errors.New("db down")}
	r := corsRouter(&config.CORSConfig{}, source)

	w := doCORS(r, http.MethodGet, "https://dynamic.example.com")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	cfg := &config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	r := corsRouter(cfg, nil)

	w := doCORS(r, http.MethodOptions, "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
}

func TestCORS_NoOriginHeader(t *testing.T) {
	cfg := &config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	r := corsRouter(cfg, nil)

	w := doCORS(r, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
