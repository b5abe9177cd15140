// ratelimit.go provides Gin middleware that enforces per-client token-bucket rate limits,
// returning 429 responses when the configured requests-per-minute threshold is exceeded.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitConfig holds configuration for a token-bucket limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained refill rate.
	RequestsPerMinute int
	// BurstSize caps how many requests can be spent at once.
	BurstSize int
	// CleanupInterval is how often idle client entries are swept.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig suits the general task API surface.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig is stricter for credential endpoints, where each
// request is a password or CAPTCHA guess.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// bucket is the per-client token state.
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter is an in-process token bucket keyed by client identity. It is
// the fallback when Redis is not configured; see redislimit.go for the
// shared-state variant.
type RateLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewRateLimiter starts a limiter and its background sweep goroutine.
// Call Stop when the limiter is no longer needed.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}

	go rl.sweep()

	return rl
}

// sweep drops buckets idle long enough to have fully refilled.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if now.Sub(b.lastUpdate) > 10*time.Minute {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop terminates the sweep goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// refill returns the token count for b as of now, capped at the burst size.
func (rl *RateLimiter) refill(b *bucket, now time.Time) float64 {
	perSecond := float64(rl.config.RequestsPerMinute) / 60.0
	earned := now.Sub(b.lastUpdate).Seconds() * perSecond
	return min(float64(rl.config.BurstSize), b.tokens+earned)
}

// Allow spends one token for key, reporting whether the request may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		// First sighting of this client: full burst minus this request.
		rl.buckets[key] = &bucket{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true
	}

	b.tokens = rl.refill(b, now)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RemainingTokens reports how many requests key could make right now.
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, ok := rl.buckets[key]
	if !ok {
		return rl.config.BurstSize
	}
	return int(rl.refill(b, time.Now()))
}

// RateLimitMiddleware enforces limiter on every request, emitting the usual
// X-RateLimit-* headers and a Retry-After hint on rejection.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		if !limiter.Allow(key) {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))

		c.Next()
	}
}

// rateLimitKey buckets by authenticated user when the session middleware ran
// earlier in the chain, otherwise by client IP.
func rateLimitKey(c *gin.Context) string {
	if v, ok := c.Get(ContextUserID); ok {
		if id, ok := v.(int64); ok && id != 0 {
			return "user:" + strconv.FormatInt(id, 10)
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
