// redislimit.go provides a Redis-backed variant of the rate limit middleware for
// multi-instance deployments, where each instance's in-memory token bucket would
// otherwise multiply the effective limit by the instance count.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// NewRedisRateLimiter creates a redis_rate limiter on the given client.
func NewRedisRateLimiter(client *redis.Client) *redis_rate.Limiter {
	return redis_rate.NewLimiter(client)
}

// RedisRateLimitMiddleware enforces a shared per-client limit through Redis.
// The key derivation is identical to the in-memory middleware so switching
// between the two does not change which clients share a bucket.
//
// If Redis is unreachable the request is allowed through: availability of the
// API is preferred over strictness of the limit, and the failure is logged so
// an operator can see the limiter is degraded.
func RedisRateLimitMiddleware(limiter *redis_rate.Limiter, requestsPerMinute, burst int) gin.HandlerFunc {
	limit := redis_rate.Limit{
		Rate:   requestsPerMinute,
		Period: time.Minute,
		Burst:  burst,
	}

	return func(c *gin.Context) {
		key := rateLimitKey(c)

		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			slog.Warn("redis rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
