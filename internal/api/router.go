// Package api wires together all HTTP routes for the Taskhive backend.
//
// Route grouping philosophy:
//   - Account endpoints (/api/users/) are public: they are how a session
//     comes to exist, so they sit behind the bot gate and the stricter auth
//     rate limit instead of session auth. Logoff is the exception; clearing
//     a cookie only makes sense for a caller that has one.
//   - Task endpoints (/api/tasks/) always require the session cookie and,
//     for state-changing methods, the CSRF header that was minted with it.
//   - The origin admin surface (/origin/) is HTML on a server-side session,
//     deliberately separate from the JWT the JSON API uses.
package api

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/taskhive/taskhive/internal/api/docs"
	"github.com/taskhive/taskhive/internal/api/origin"
	"github.com/taskhive/taskhive/internal/api/tasks"
	"github.com/taskhive/taskhive/internal/api/users"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/auth/githubauth"
	"github.com/taskhive/taskhive/internal/auth/google"
	"github.com/taskhive/taskhive/internal/captcha"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/db/repositories"
	"github.com/taskhive/taskhive/internal/middleware"
	"github.com/taskhive/taskhive/internal/services"
)

// BackgroundServices holds resources that must be stopped during graceful
// shutdown. The caller (cmd/server) calls Shutdown() after the HTTP server
// has drained.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
	redisClient  *redis.Client
}

// Shutdown stops the rate limiter janitors and closes the Redis connection.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Repositories. Users ride plain database/sql; the rest use sqlx.
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(db)
	taskRepo := repositories.NewTaskRepository(sqlxDB)
	originRepo := repositories.NewOriginRepository(sqlxDB)
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	recorder := audit.NewRecorder(auditRepo)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bg.redisClient = redisClient
		log.Printf("Redis enabled at %s (sessions, rate limiting)", cfg.Redis.Address)
	}

	// Federated identity providers. Each is optional; a disabled provider
	// leaves its endpoints answering "not configured" rather than 404.
	var googleProvider auth.IdentityProvider
	if cfg.Auth.Google.Enabled {
		provider, err := google.NewProvider(context.Background(), &cfg.Auth.Google)
		if err != nil {
			log.Fatalf("Failed to initialize Google identity provider: %v", err)
		}
		googleProvider = provider
		log.Println("Google federated logon enabled")
	}

	var githubProvider *githubauth.Provider
	if cfg.Auth.GitHub.Enabled {
		callbackURL := cfg.Server.GetPublicURL() + "/origin/auth/github/callback"
		provider, err := githubauth.NewProvider(&cfg.Auth.GitHub, callbackURL)
		if err != nil {
			log.Fatalf("Failed to initialize GitHub OAuth provider: %v", err)
		}
		githubProvider = provider
		log.Println("GitHub origin-admin logon enabled")
	}

	// Two verifier instances: the account gate honors the test bypass
	// header, the docs gate never does.
	accountVerifier := captcha.NewVerifier(&cfg.Auth.Captcha)
	docsCaptchaCfg := cfg.Auth.Captcha
	docsCaptchaCfg.BypassSecret = ""
	docsVerifier := captcha.NewVerifier(&docsCaptchaCfg)

	// Middleware chain. CORS reads the static allow-list plus the origins
	// registered through the admin surface.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.CORSMiddleware(&cfg.Security.CORS, originRepo))

	router.GET("/healthz", healthCheckHandler(db))

	// Rate limiting: Redis-backed when available so limits hold across
	// replicas, in-process token buckets otherwise.
	var generalLimit, authLimit gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		settings := cfg.Security.RateLimiting
		if redisClient != nil {
			limiter := middleware.NewRedisRateLimiter(redisClient)
			generalLimit = middleware.RedisRateLimitMiddleware(limiter, settings.RequestsPerMinute, settings.Burst)
			authLimit = middleware.RedisRateLimitMiddleware(limiter, settings.AuthRequestsPerMinute, settings.AuthBurst)
		} else {
			generalLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
				RequestsPerMinute: settings.RequestsPerMinute,
				BurstSize:         settings.Burst,
				CleanupInterval:   5 * time.Minute,
			})
			authLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
				RequestsPerMinute: settings.AuthRequestsPerMinute,
				BurstSize:         settings.AuthBurst,
				CleanupInterval:   5 * time.Minute,
			})
			bg.rateLimiters = append(bg.rateLimiters, generalLimiter, authLimiter)
			generalLimit = middleware.RateLimitMiddleware(generalLimiter)
			authLimit = middleware.RateLimitMiddleware(authLimiter)
		}
	} else {
		passthrough := func(c *gin.Context) { c.Next() }
		generalLimit, authLimit = passthrough, passthrough
	}

	provisioner := services.NewProvisioner(sqlxDB)
	userHandlers := users.NewHandlers(cfg, userRepo, provisioner, googleProvider, accountVerifier, recorder)

	// Account endpoints: public, strictly rate limited.
	usersGroup := router.Group("/api/users")
	usersGroup.Use(authLimit)
	{
		usersGroup.POST("/register", userHandlers.Register)
		usersGroup.POST("/logon", userHandlers.Logon)
		usersGroup.POST("/googleLogon", userHandlers.GoogleLogon)
		usersGroup.POST("/logoff", middleware.SessionAuthMiddleware(), userHandlers.Logoff)
	}

	// Task endpoints: session plus CSRF for anything state-changing.
	taskHandlers := tasks.NewHandlers(cfg, taskRepo)
	tasksGroup := router.Group("/api/tasks")
	tasksGroup.Use(generalLimit)
	tasksGroup.Use(middleware.SessionAuthMiddleware())
	tasksGroup.Use(middleware.CSRFMiddleware())
	{
		tasksGroup.GET("", taskHandlers.Index)
		tasksGroup.GET("/:id", taskHandlers.Show)
		tasksGroup.POST("", taskHandlers.Create)
		tasksGroup.POST("/bulk", taskHandlers.BulkCreate)
		tasksGroup.PATCH("/:id", taskHandlers.Update)
		tasksGroup.DELETE("/:id", taskHandlers.Delete)
	}

	// Origin admin surface, mounted only when GitHub OAuth is configured.
	if githubProvider != nil {
		var sessionStore origin.Store = origin.NewMemoryStore()
		if redisClient != nil {
			sessionStore = origin.NewRedisStore(redisClient)
		}
		originHandlers := origin.NewHandlers(
			origin.NewManager(sessionStore, cfg.Environment),
			githubProvider,
			originRepo,
			recorder,
		)
		originHandlers.RegisterRoutes(router)
	}

	docsHandlers := docs.NewHandlers(cfg, docsVerifier)
	docsHandlers.RegisterRoutes(router)

	return router, bg
}

func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// LoggerMiddleware logs every request through slog; the output format
// follows whatever handler telemetry.SetupLogger installed.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
