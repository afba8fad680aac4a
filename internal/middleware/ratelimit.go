package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chatpd/orchestrator/pkg/utils"
	"github.com/gin-gonic/gin"
)

// RateLimiter implements a fixed-window in-memory rate limiter keyed by client IP.
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	rate     int
	window   time.Duration
	now      func() time.Time
}

type Visitor struct {
	windowStart time.Time
	lastSeen    time.Time
	count       int
}

// NewRateLimiter allows rate requests per window for each client.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		visitors: make(map[string]*Visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
	}
}

// allow records a request and returns whether it is within the limit, plus the
// time until the client's window resets.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists || now.Sub(v.windowStart) >= rl.window {
		rl.visitors[key] = &Visitor{windowStart: now, lastSeen: now, count: 1}
		return true, rl.window
	}

	v.lastSeen = now
	reset := rl.window - now.Sub(v.windowStart)
	if v.count >= rl.rate {
		return false, reset
	}
	v.count++
	return true, reset
}

// RateLimit middleware function
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		ok, reset := rl.allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(reset.Seconds()+0.5)))
			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}

// Cleanup drops idle visitors every interval until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 5*rl.window {
			delete(rl.visitors, ip)
		}
	}
}

// Security middleware
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'")
		c.Next()
	}
}
