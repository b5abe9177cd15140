// cors.go implements the CORS policy. Allowed origins come from two
// sources: the static list in configuration and the database-backed
// allow-list maintained through the origin-admin flow. The dynamic source
// is cached briefly so CORS checks do not hit the database per request.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/config"
)

// originCacheTTL bounds how stale a newly registered origin can be before
// browsers see it take effect.
const originCacheTTL = 30 * time.Second

// OriginSource supplies the dynamic origin allow-list.
type OriginSource interface {
	ListOriginValues(ctx context.Context) ([]string, error)
}

// CORSMiddleware answers preflight requests and stamps CORS headers for
// allowed origins. Credentials are always allowed because the session
// rides in a cookie, so the Allow-Origin header echoes the specific
// origin, never a wildcard.
func CORSMiddleware(cfg *config.CORSConfig, source OriginSource) gin.HandlerFunc {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PATCH, DELETE"
	}
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Content-Type, X-CSRF-Token"
	}

	static := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		static[origin] = true
	}

	var mu sync.Mutex
	var cached map[string]bool
	var fetchedAt time.Time

	dynamicAllowed := func(ctx context.Context, origin string) bool {
		if source == nil {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if cached == nil || time.Since(fetchedAt) > originCacheTTL {
			values, err := source.ListOriginValues(ctx)
			if err != nil {
				// Keep serving the stale set rather than dropping CORS
				// for everyone on a transient DB error.
				slog.Warn("failed to refresh origin allow-list", "error", err)
			} else {
				next := make(map[string]bool, len(values))
				for _, v := range values {
					next[v] = true
				}
				cached = next
				fetchedAt = time.Now()
			}
		}
		return cached[origin]
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (static[origin] || dynamicAllowed(c.Request.Context(), origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
