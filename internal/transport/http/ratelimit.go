package http

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// newRateLimiter returns a token bucket, or nil when limiting is disabled.
func newRateLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func allow(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}

// clientLimiters keeps one bucket per client IP.
type clientLimiters struct {
	rps   float64
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{rps: rps, burst: burst, clients: make(map[string]*rate.Limiter)}
}

func (cl *clientLimiters) get(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	l, ok := cl.clients[ip]
	if !ok {
		l = newRateLimiter(cl.rps, cl.burst)
		cl.clients[ip] = l
	}
	return l
}

// RateLimitMiddleware rejects requests beyond rps per client IP with 429.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := newClientLimiters(rps, burst)
	return func(c *gin.Context) {
		if !allow(limiters.get(c.ClientIP())) {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
			c.Abort()
			return
		}
		c.Next()
	}
}
