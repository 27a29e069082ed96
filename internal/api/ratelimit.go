package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/solshield/ledger/internal/metrics"
)

// RateLimit is a token bucket expressed per minute.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles mutating requests per authenticated signer. It runs
// after the Authenticator; without a caller it keys on the remote address.
type RateLimiter struct {
	limit    RateLimit
	idleTTL  time.Duration
	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
}

// NewRateLimiter builds a limiter. A zero RequestsPerMinute disables it.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		idleTTL:  5 * time.Minute,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
	}
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow(clientID(r)) {
			metrics.RateLimitRejections.Inc()
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error: http.StatusText(http.StatusTooManyRequests),
				Code:  "RateLimited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(id string) bool {
	now := l.clockNow()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.visitors[id]
	if !ok {
		l.sweep(now)
		perSecond := l.limit.RequestsPerMinute / 60.0
		burst := l.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		l.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep forgets idle visitors. Callers hold l.mu.
func (l *RateLimiter) sweep(now time.Time) {
	for id, e := range l.visitors {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.visitors, id)
		}
	}
}

// clientID prefers the authenticated signer, so one key cannot dodge its
// limit by rotating addresses.
func clientID(r *http.Request) string {
	if caller, ok := CallerFrom(r.Context()); ok {
		return "signer:" + caller.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
