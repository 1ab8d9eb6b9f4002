package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-IP token bucket for the bid and auction-write endpoints
// ──────────────────────────────────────────────────────────────────────────────

const limiterSweepEvery = 5 * time.Minute

// clientBucket is the refill state for one client IP.
type clientBucket struct {
	tokens   float64
	lastSeen time.Time
}

// ipLimiter holds all client buckets behind one mutex. Idle buckets are swept
// inline on the next take, so no background goroutine is needed.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rate    float64 // tokens per second
	burst   float64 // bucket capacity
	sweepAt time.Time
}

// newIPLimiter builds a limiter allowing rps sustained requests per second
// per IP, with a burst capacity of at least 10 so bid bursts at auction close
// are not refused outright.
func newIPLimiter(rps int) *ipLimiter {
	burst := float64(rps)
	if burst < 10 {
		burst = 10
	}
	return &ipLimiter{
		clients: make(map[string]*clientBucket),
		rate:    float64(rps),
		burst:   burst,
		sweepAt: time.Now().Add(limiterSweepEvery),
	}
}

// take deducts one token for the IP, refilling by elapsed time first.
func (l *ipLimiter) take(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		l.sweep(now)
		l.sweepAt = now.Add(limiterSweepEvery)
	}

	b, ok := l.clients[ip]
	if !ok {
		b = &clientBucket{tokens: l.burst, lastSeen: now}
		l.clients[ip] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle long enough to have refilled completely.
func (l *ipLimiter) sweep(now time.Time) {
	cutoff := now.Add(-2 * limiterSweepEvery)
	for ip, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// RateLimitMiddleware enforces a per-IP token bucket of rps requests per
// second. Clients over the limit receive 429 in the standard error envelope.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	l := newIPLimiter(rps)
	return func(c *gin.Context) {
		if !l.take(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"code":    "ERR_RATE_LIMIT",
				"error":   "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
