package origin

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/db/models"
	"github.com/taskhive/taskhive/internal/db/repositories"
	"github.com/taskhive/taskhive/internal/telemetry"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// GitHubAuthenticator is the slice of the GitHub OAuth provider the admin
// flow needs.
type GitHubAuthenticator interface {
	AuthCodeURL(state string) string
	ExchangeForLogin(ctx context.Context, code string) (string, error)
}

// Handlers holds all dependencies for the origin admin surface.
type Handlers struct {
	sessions   *Manager
	github     GitHubAuthenticator
	originRepo *repositories.OriginRepository
	recorder   *audit.Recorder
}

// NewHandlers creates a new origin admin Handlers instance.
func NewHandlers(sessions *Manager, github GitHubAuthenticator, originRepo *repositories.OriginRepository, recorder *audit.Recorder) *Handlers {
	return &Handlers{
		sessions:   sessions,
		github:     github,
		originRepo: originRepo,
		recorder:   recorder,
	}
}

// RegisterRoutes mounts the admin surface under /origin.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/origin")
	group.GET("", h.Logon)
	group.GET("/auth/github", h.GitHubAuth)
	group.GET("/auth/github/callback", h.GitHubCallback)
	group.GET("/logoff", h.Logoff)
	group.GET("/addOrigin", h.NewOrigin)
	group.POST("/addOrigin", h.CreateOrigin)
}

type pageData struct {
	Username string
	CSRF     string
	Info     []string
	Errors   []string
}

func (h *Handlers) render(c *gin.Context, page string, data pageData) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	// The admin pages are plain same-origin HTML; loosen the API-wide CSP
	// just enough to let their inline styles render.
	c.Header("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
	if err := pages.ExecuteTemplate(c.Writer, page, data); err != nil {
		c.Error(err)
	}
}

// Logon shows the sign-in page, or forwards an already-admitted session to
// the registration form.
func (h *Handlers) Logon(c *gin.Context) {
	session, id, err := h.sessions.Current(c)
	if err != nil {
		c.Error(err)
		c.String(http.StatusInternalServerError, "session store unavailable")
		return
	}
	if session != nil && session.Username != "" {
		c.Redirect(http.StatusFound, "/origin/addOrigin")
		return
	}

	data := pageData{}
	if session != nil {
		data.Info, data.Errors = session.ConsumeFlashes()
		if err := h.sessions.Save(c, id, session); err != nil {
			c.Error(err)
		}
	}
	h.render(c, "logon.html", data)
}

// GitHubAuth starts the OAuth dance. The state nonce is pinned to the
// session and checked on the way back.
func (h *Handlers) GitHubAuth(c *gin.Context) {
	session, id, err := h.sessions.Current(c)
	if err != nil {
		c.Error(err)
		c.String(http.StatusInternalServerError, "session store unavailable")
		return
	}
	if session == nil {
		session, id, err = h.sessions.Begin(c)
		if err != nil {
			c.Error(err)
			c.String(http.StatusInternalServerError, "session store unavailable")
			return
		}
	}

	session.State = uuid.NewString()
	if err := h.sessions.Save(c, id, session); err != nil {
		c.Error(err)
		c.String(http.StatusInternalServerError, "session store unavailable")
		return
	}
	c.Redirect(http.StatusFound, h.github.AuthCodeURL(session.State))
}

// GitHubCallback finishes the OAuth dance and checks the allow-list.
// An unknown account is a denial, not an error: the session principal is
// dropped and the visitor lands back on the sign-in page with a flash.
func (h *Handlers) GitHubCallback(c *gin.Context) {
	session, id, err := h.sessions.Current(c)
	if err != nil {
		c.Error(err)
		c.String(http.StatusInternalServerError, "session store unavailable")
		return
	}
	if session == nil {
		c.Redirect(http.StatusFound, "/origin")
		return
	}

	fail := func(message string) {
		telemetry.FederatedLogonsTotal.WithLabelValues("github", "error").Inc()
		session.Username = ""
		session.State = ""
		session.Flash("error", message)
		if err := h.sessions.Save(c, id, session); err != nil {
			c.Error(err)
		}
		c.Redirect(http.StatusFound, "/origin")
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" || state != session.State {
		fail("GitHub logon failed.")
		return
	}
	session.State = ""

	login, err := h.github.ExchangeForLogin(c.Request.Context(), code)
	if err != nil {
		c.Error(err)
		fail("GitHub logon failed.")
		return
	}

	account, err := h.originRepo.GetGitHubAccount(c.Request.Context(), login)
	if err != nil {
		c.Error(err)
		fail("GitHub logon failed.")
		return
	}
	if account == nil {
		telemetry.FederatedLogonsTotal.WithLabelValues("github", "denied").Inc()
		h.recorder.Record("origin.logon_denied", login, "", nil)
		session.Username = ""
		session.CSRF = ""
		session.Flash("error", "Your GitHub account is not authorized to register origins.")
		if err := h.sessions.Save(c, id, session); err != nil {
			c.Error(err)
		}
		c.Redirect(http.StatusFound, "/origin")
		return
	}

	telemetry.FederatedLogonsTotal.WithLabelValues("github", "existing").Inc()
	h.recorder.Record("origin.logon", login, "", nil)
	session.Username = account.Username
	session.CSRF = uuid.NewString()
	if err := h.sessions.Save(c, id, session); err != nil {
		c.Error(err)
		c.String(http.StatusInternalServerError, "session store unavailable")
		return
	}
	c.Redirect(http.StatusFound, "/origin/addOrigin")
}

// Logoff destroys the admin session.
func (h *Handlers) Logoff(c *gin.Context) {
	_, id, err := h.sessions.Current(c)
	if err == nil && id != "" {
		if err := h.sessions.Destroy(c, id); err != nil {
			c.Error(err)
		}
	}
	c.Redirect(http.StatusFound, "/origin")
}

// admitted loads the session and enforces the principal. A visitor without
// one is bounced to the sign-in page.
func (h *Handlers) admitted(c *gin.Context) (*Session, string, bool) {
	session, id, err := h.sessions.Current(c)
	if err != nil {
		c.Error(err)
		c.String(http.StatusInternalServerError, "session store unavailable")
		return nil, "", false
	}
	if session == nil || session.Username == "" {
		c.Redirect(http.StatusFound, "/origin")
		return nil, "", false
	}
	return session, id, true
}

// NewOrigin renders the registration form.
func (h *Handlers) NewOrigin(c *gin.Context) {
	session, id, ok := h.admitted(c)
	if !ok {
		return
	}

	data := pageData{Username: session.Username, CSRF: session.CSRF}
	data.Info, data.Errors = session.ConsumeFlashes()
	if err := h.sessions.Save(c, id, session); err != nil {
		c.Error(err)
	}
	h.render(c, "neworigin.html", data)
}

// CreateOrigin validates and stores a submitted origin, then re-renders the
// form with the outcome as a flash. A CSRF mismatch gets a bare 401.
func (h *Handlers) CreateOrigin(c *gin.Context) {
	session, _, ok := h.admitted(c)
	if !ok {
		return
	}

	if session.CSRF == "" || c.PostForm("_csrf") != session.CSRF {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	submitted := strings.TrimSpace(c.PostForm("newOrigin"))
	parsed, err := url.Parse(submitted)
	switch {
	case err != nil || parsed.Host == "":
		telemetry.OriginRegistrationsTotal.WithLabelValues("rejected").Inc()
		session.Flash("error", "That was not a valid origin. It should be of the format https://this.that.com.")
	case parsed.Scheme != "https":
		telemetry.OriginRegistrationsTotal.WithLabelValues("rejected").Inc()
		session.Flash("error", "You can only register an origin starting with https:.")
	default:
		value := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
		err := h.originRepo.CreateOrigin(c.Request.Context(), &models.Origin{
			Origin:  value,
			AddedBy: session.Username,
		})
		switch {
		case repositories.IsUniqueViolation(err):
			telemetry.OriginRegistrationsTotal.WithLabelValues("duplicate").Inc()
			session.Flash("info", "The origin "+value+" was already registered.")
		case err != nil:
			c.Error(err)
			telemetry.OriginRegistrationsTotal.WithLabelValues("error").Inc()
			session.Flash("error", "A server error occurred, and the origin was not added.")
		default:
			telemetry.OriginRegistrationsTotal.WithLabelValues("added").Inc()
			h.recorder.Record("origin.added", session.Username, value, nil)
			session.Flash("info", "The origin "+value+" has been added.")
		}
	}

	data := pageData{Username: session.Username, CSRF: session.CSRF}
	data.Info, data.Errors = session.ConsumeFlashes()
	h.render(c, "neworigin.html", data)
}
