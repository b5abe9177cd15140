// security.go provides Gin middleware that injects protective HTTP response
// headers: Strict-Transport-Security, Content-Security-Policy,
// X-Frame-Options, and friends.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig selects which protective headers a response carries.
// Handlers that serve HTML (the origin admin pages, the docs gate) override
// Content-Security-Policy per page; the middleware value is the backstop.
type SecurityHeadersConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	EnableFrameOptions bool
	// FrameOptionsValue is DENY or SAMEORIGIN.
	FrameOptionsValue string

	EnableContentTypeOptions bool
	EnableXSSProtection      bool

	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecurityHeadersConfig suits the HTML surfaces: inline styles are
// allowed because the admin templates carry small style blocks.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:               true,
		HSTSMaxAge:               31536000,
		HSTSIncludeSubdomains:    true,
		HSTSPreload:              false,
		EnableFrameOptions:       true,
		FrameOptionsValue:        "DENY",
		EnableContentTypeOptions: true,
		EnableXSSProtection:      true,
		ContentSecurityPolicy:    "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'; connect-src 'self'",
		ReferrerPolicy:           "strict-origin-when-cross-origin",
		PermissionsPolicy:        "geolocation=(), microphone=(), camera=()",
	}
}

// APISecurityHeadersConfig suits JSON endpoints: nothing should ever render,
// so the CSP denies everything and framing is refused outright.
func APISecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:               true,
		HSTSMaxAge:               31536000,
		HSTSIncludeSubdomains:    true,
		HSTSPreload:              false,
		EnableFrameOptions:       true,
		FrameOptionsValue:        "DENY",
		EnableContentTypeOptions: true,
		EnableXSSProtection:      false, // not relevant for JSON responses
		ContentSecurityPolicy:    "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:           "no-referrer",
		PermissionsPolicy:        "",
	}
}

// SecurityHeadersMiddleware adds the configured headers to every response.
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.EnableHSTS {
			hstsValue := "max-age=" + strconv.Itoa(config.HSTSMaxAge)
			if config.HSTSIncludeSubdomains {
				hstsValue += "; includeSubDomains"
			}
			if config.HSTSPreload {
				hstsValue += "; preload"
			}
			c.Header("Strict-Transport-Security", hstsValue)
		}

		if config.EnableFrameOptions && config.FrameOptionsValue != "" {
			c.Header("X-Frame-Options", config.FrameOptionsValue)
		}

		if config.EnableContentTypeOptions {
			c.Header("X-Content-Type-Options", "nosniff")
		}

		if config.EnableXSSProtection {
			c.Header("X-XSS-Protection", "1; mode=block")
		}

		if config.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", config.ContentSecurityPolicy)
		}

		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}

		if config.PermissionsPolicy != "" {
			c.Header("Permissions-Policy", config.PermissionsPolicy)
		}

		// Always set. COEP is deliberately omitted: the docs page loads the
		// Swagger UI bundle from a CDN that does not send CORP headers.
		c.Header("X-Permitted-Cross-Domain-Policies", "none")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")

		c.Next()
	}
}
