// csrf.go implements the double-submit CSRF check for the cookie-based
// session. The JWT carries a per-session CSRF token; mutating requests must
// echo it back in a header the browser will not send cross-site.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CSRFHeader is the request header carrying the session's CSRF token.
const CSRFHeader = "X-CSRF-Token"

// csrfSafeMethods do not change state, so they skip the header check.
var csrfSafeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// CSRFMiddleware rejects mutating requests whose X-CSRF-Token header does
// not match the token bound into the session JWT. Must run after
// SessionAuthMiddleware.
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if csrfSafeMethods[c.Request.Method] {
			c.Next()
			return
		}

		expected, _ := c.Get(ContextCSRFToken)
		expectedToken, _ := expected.(string)
		provided := c.GetHeader(CSRFHeader)

		if expectedToken == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(expectedToken), []byte(provided)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "CSRF token missing or invalid",
			})
			return
		}

		c.Next()
	}
}
