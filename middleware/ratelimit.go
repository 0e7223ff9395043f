package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleAfter is how long a bucket may go unused before Sweep drops it.
const limiterIdleAfter = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per caller. A caller is the trusted
// user id when the request carries one, otherwise the client IP.
type RateLimiter struct {
	r rate.Limit
	b int

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter creates a limiter allowing r requests per second with burst b.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{r: r, b: b, buckets: make(map[string]*bucket)}
}

func (l *RateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	bk, ok := l.buckets[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(l.r, l.b)}
		l.buckets[key] = bk
	}
	bk.lastSeen = now
	l.mu.Unlock()
	return bk.limiter.AllowN(now, 1)
}

// Handler returns the gin middleware.
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if uid := c.GetHeader(UserIDHeader); uid != "" {
			key = "user:" + uid
		}
		if !l.allow(key, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Sweep drops buckets idle for longer than limiterIdleAfter. It has the
// scheduler task signature.
func (l *RateLimiter) Sweep(context.Context) error {
	cutoff := time.Now().Add(-limiterIdleAfter)
	l.mu.Lock()
	for k, bk := range l.buckets {
		if bk.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
	l.mu.Unlock()
	return nil
}

// Len is the number of live buckets.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
