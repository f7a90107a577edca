package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tomevault/tomevault/internal/config"
)

// ipLimiters hands out one token bucket per client IP. Entries are
// created lazily and kept for the process lifetime.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiters := &ipLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
	}
	return func(c *gin.Context) {
		if !limiters.get(clientIP(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "Too many requests.",
				"meta":    gin.H{"status": http.StatusTooManyRequests, "retry_after": "1s"},
			})
			return
		}
		c.Next()
	}
}
