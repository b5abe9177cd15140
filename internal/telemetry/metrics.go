// Package telemetry provides application-level observability for Taskhive.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<TH_TELEMETRY_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router, so it never
// passes through the public ingress, rate limiting, or session auth.
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/tasks/:id) rather
// than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authentication metrics, recorded by the user handlers.
//
// LogonAttemptsTotal carries a {result} label with values "success" or
// "failure". The failure rate is the signal to alert on for
// credential stuffing.
//
// FederatedLogonsTotal carries {provider, result}. The Google flow emits
// "existing", "provisioned", "exchange_failed" (code exchange or token
// verification failed), "rejected" (claim missing a verified email or a
// name), and "error"; the GitHub origin-admin flow emits "existing",
// "denied" (username not on the allow-list), and "error". "provisioned"
// counts first-sight accounts created from a federated identity claim.
var (
	LogonAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logon_attempts_total",
			Help: "Total number of password logon attempts, by result.",
		},
		[]string{"result"},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Total number of registration attempts, by result (success, duplicate, bot_rejected, error).",
		},
		[]string{"result"},
	)

	FederatedLogonsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federated_logons_total",
			Help: "Total number of federated logon attempts, by provider and result.",
		},
		[]string{"provider", "result"},
	)
)

// CaptchaVerificationsTotal counts bot-gate decisions, by outcome:
// "success", "failure", "error" (verifier unreachable / bad response), or
// "bypass" (test header accepted without a verifier round-trip).
var CaptchaVerificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "captcha_verifications_total",
		Help: "Total number of CAPTCHA verification round-trips, by outcome.",
	},
	[]string{"outcome"},
)

// OriginRegistrationsTotal counts origin-admin submissions, by result:
// "added", "duplicate", "rejected" (non-https or malformed), or "error".
var OriginRegistrationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "origin_registrations_total",
		Help: "Total number of origin registration submissions, by result.",
	},
	[]string{"result"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB connection pool. It is sampled every 30 seconds
// by StartDBStatsCollector rather than per-request to avoid the overhead of
// sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the DBOpenConnections
// gauge. The goroutine exits cleanly when the database becomes unreachable
// (db.Ping fails), which happens automatically when the application shuts down
// and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
