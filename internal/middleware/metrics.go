// Package middleware provides Gin HTTP middleware components for the Taskhive API.
// All middleware in this package is registered in internal/api/router.go before any
// route handlers so that every request is covered regardless of handler.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhive/taskhive/internal/telemetry"
)

// MetricsMiddleware records request counts and latency for every request:
// http_requests_total{method, path, status} and
// http_request_duration_seconds{method, path}.
//
// The path label comes from c.FullPath(), the matched route template
// (for example /api/tasks/:id), never the raw URL. Requests that match no
// registered route are labeled "<no-route>" to keep label cardinality bounded.
//
// Register after gin.Recovery() and RequestIDMiddleware so the status written
// by error handlers is the one observed here.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		elapsed := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed)
	}
}
