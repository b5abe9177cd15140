// Package docs serves the API reference behind a CAPTCHA gate. The gate is
// stateless: every fetch of the document re-verifies, nothing is persisted.
package docs

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/captcha"
	"github.com/taskhive/taskhive/internal/config"
)

//go:embed assets/index.html assets/openapi.yaml
var assetFS embed.FS

var indexPage = template.Must(template.ParseFS(assetFS, "assets/index.html"))

// trustedSources are the external hosts the docs page loads assets from,
// allow-listed in its Content-Security-Policy.
const trustedSources = "https://www.google.com https://www.gstatic.com https://unpkg.com/swagger-ui-dist/"

const contentSecurityPolicy = "default-src 'self' 'unsafe-inline' " + trustedSources + "; " +
	"script-src 'self' 'unsafe-inline' " + trustedSources + "; " +
	"frame-src 'self' 'unsafe-inline' " + trustedSources + "; " +
	"style-src 'self' 'unsafe-inline' " + trustedSources + "; " +
	"img-src 'self' data: " + trustedSources + ";"

// Handlers holds all dependencies for the documentation endpoints.
type Handlers struct {
	siteKey  string
	verifier *captcha.Verifier
}

// NewHandlers creates a new docs Handlers instance. The verifier is a
// dedicated instance so the docs gate never honors the test bypass header.
func NewHandlers(cfg *config.Config, verifier *captcha.Verifier) *Handlers {
	return &Handlers{siteKey: cfg.Auth.Captcha.SiteKey, verifier: verifier}
}

// RegisterRoutes mounts the docs surface under /api-docs.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/api-docs")
	group.GET("", h.Index)
	group.POST("/verify-captcha", h.VerifyCaptcha)
	group.GET("/openapi.yaml", h.Document)
}

// Index renders the gate page with the widget site key substituted in.
func (h *Handlers) Index(c *gin.Context) {
	c.Header("Content-Security-Policy", contentSecurityPolicy)
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := indexPage.ExecuteTemplate(c.Writer, "index.html", gin.H{"SiteKey": h.siteKey}); err != nil {
		c.Error(err)
	}
}

// VerifyCaptcha checks a token without serving anything, so the page can
// validate before swapping in the viewer.
func (h *Handlers) VerifyCaptcha(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "CAPTCHA required."})
		return
	}

	if err := h.verifier.Verify(c.Request.Context(), req.Token, c.ClientIP()); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"message": "Failed CAPTCHA verification. Please go back and try again."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Document serves the OpenAPI document after re-verifying the token.
func (h *Handlers) Document(c *gin.Context) {
	token := c.Query("recaptchaToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "CAPTCHA required."})
		return
	}

	if err := h.verifier.Verify(c.Request.Context(), token, c.ClientIP()); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"message": "Failed CAPTCHA verification. Please go back and try again."})
		return
	}

	document, err := assetFS.ReadFile("assets/openapi.yaml")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Documentation unavailable"})
		return
	}
	c.Data(http.StatusOK, "application/x-yaml", document)
}
