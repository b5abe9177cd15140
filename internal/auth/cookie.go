// cookie.go defines the transport contract for session tokens: the cookie name,
// and the attribute set that differs between production and local deployments.
package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/config"
)

// SessionCookieName is the cookie that carries the signed session token.
const SessionCookieName = "jwt"

// CookiePolicy is the attribute set applied to the session cookie. It is
// computed once from the deployment environment and injected wherever cookies
// are written, so issuing and clearing always agree. A cleared cookie with
// mismatched attributes is silently ignored by browsers and the session would
// appear impossible to log out of.
//
// Production serves a cross-site SPA over HTTPS, so the cookie must be Secure
// and SameSite=None and is scoped to the serving host. Development and test
// run over plain HTTP on localhost, where Secure cookies are dropped; the
// relaxed Lax policy there is a deliberate environment contract, not a
// weakening to fix later.
type CookiePolicy struct {
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	Domain   string
}

// NewCookiePolicy computes the cookie policy for the given deployment
// environment. The domain is only applied in production; localhost cookies
// must stay host-only.
func NewCookiePolicy(environment, domain string) CookiePolicy {
	if environment == config.EnvProduction {
		return CookiePolicy{
			Secure:   true,
			HTTPOnly: true,
			SameSite: http.SameSiteNoneMode,
			Domain:   domain,
		}
	}
	return CookiePolicy{
		Secure:   false,
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSessionCookie writes the session cookie on the response with this policy
// and a max age matching the token lifetime.
func (p CookiePolicy) SetSessionCookie(c *gin.Context, token string, ttl time.Duration) {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   p.Domain,
		MaxAge:   int(ttl.Seconds()),
		Secure:   p.Secure,
		HttpOnly: p.HTTPOnly,
		SameSite: p.SameSite,
	})
}

// ClearSessionCookie expires the session cookie. It must use the exact
// attribute set used at issuance.
func (p CookiePolicy) ClearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   p.Domain,
		MaxAge:   -1,
		Secure:   p.Secure,
		HttpOnly: p.HTTPOnly,
		SameSite: p.SameSite,
	})
}
