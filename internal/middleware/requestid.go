package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier between client,
	// proxy, and server.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the identifier is
	// stored for handlers and the request logger.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware guarantees every request a unique identifier. An
// inbound X-Request-ID (from a load balancer or the caller) is reused
// unchanged; otherwise a fresh UUID v4 is generated. The ID is stored in
// the gin context under RequestIDKey and echoed back in the response header
// so clients can quote it when reporting a problem.
//
// Register it early, before the logger, so every log line carries the ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
