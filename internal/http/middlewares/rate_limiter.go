package middlewares

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	limit     int
	buckets   map[string]*bucket
	nextSweep time.Time
	now       func() time.Time
}

type bucket struct {
	count     int
	windowEnd time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// allow counts one hit for key. When the window is exhausted it reports how
// long until the window resets.
func (rl *RateLimiter) allow(key string) (remaining int, retryAfter time.Duration, ok bool) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepLocked(now)

	b, found := rl.buckets[key]
	if !found || now.After(b.windowEnd) {
		rl.buckets[key] = &bucket{count: 1, windowEnd: now.Add(rl.window)}
		return rl.limit - 1, 0, true
	}
	if b.count >= rl.limit {
		return 0, b.windowEnd.Sub(now), false
	}
	b.count++
	return rl.limit - b.count, 0, true
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	for key, b := range rl.buckets {
		if now.After(b.windowEnd) {
			delete(rl.buckets, key)
		}
	}
	rl.nextSweep = now.Add(rl.window)
}

// RateLimiterMiddleware enforces the limit for the key derived by keyFn,
// falling back to the client IP.
func (rl *RateLimiter) RateLimiterMiddleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = clientIP(c)
		}

		remaining, retryAfter, ok := rl.allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			secs := int(math.Ceil(retryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(secs, 0)))
			abortWithError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again shortly.")
			return
		}
		c.Next()
	}
}

func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// KeyByPrincipalOrIP keys authenticated callers by kind and id.
func KeyByPrincipalOrIP(c *gin.Context) string {
	if claims, ok := IdentityFromContext(c); ok && claims.PrincipalID != "" {
		return string(claims.Kind) + ":" + claims.PrincipalID
	}
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if host, _, err := net.SplitHostPort(ip); err == nil && host != "" {
		return host
	}
	return ip
}
