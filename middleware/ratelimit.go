package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrEthical07/cauth"
)

// RateLimiter is a per-client token bucket for the public auth routes. It
// sits in front of the engine's Redis-backed attempt counters and sheds
// floods before any password hashing happens.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	idle     time.Duration
	clientIP func(*http.Request) string
	now      func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter admits perSecond requests per client with the given burst.
// Clients idle for three minutes are forgotten.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     3 * time.Minute,
		clientIP: RemoteIP,
		now:      time.Now,
		clients:  make(map[string]*client),
	}
}

// Handler rejects over-limit requests with 429 and the too-many-requests code.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			writeCode(w, http.StatusTooManyRequests, cauth.CodeRateLimited, cauth.ErrRateLimited.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow spends one token from key's bucket.
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.idle {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.idle {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Len reports how many clients are tracked.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *RateLimiter) retryAfter() int {
	if l.limit <= 0 {
		return 60
	}
	secs := int(1 / float64(l.limit))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimit is NewRateLimiter(perSecond, burst).Handler.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	return NewRateLimiter(perSecond, burst).Handler
}
