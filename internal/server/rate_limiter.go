package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// The device samples every few seconds; anything past this per-minute rate
// is a misbehaving sender, not a burst.
const (
	ingestRateLimit  = 120
	ingestRateWindow = time.Minute
)

// rateLimiter is a fixed-window counter per key.
type rateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	items  map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		items:  make(map[string]*rateLimitEntry),
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.items[key]
	if entry == nil || now.Sub(entry.windowStart) > r.window {
		entry = &rateLimitEntry{windowStart: now}
		r.items[key] = entry
	}

	if entry.count >= r.limit {
		return false
	}

	entry.count++
	return true
}

// rateLimitIngest throttles the ingest endpoint per reporting device.
func (s *Server) rateLimitIngest() gin.HandlerFunc {
	limiter := newRateLimiter(ingestRateLimit, ingestRateWindow)
	return func(c *gin.Context) {
		key := c.Query("device_id")
		if key == "" {
			key = s.cfg.DeviceID
		}
		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": &APIError{
				Status:  http.StatusTooManyRequests,
				Code:    "rate_limited",
				Message: "too many readings",
			}})
			return
		}
		c.Next()
	}
}
