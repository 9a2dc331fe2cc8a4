package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an address's limiter survives without requests.
const idleLimiterTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles requests per client address with a token bucket of
// capacity requests refilled evenly over interval.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	capacity  int
	interval  time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}

	return &rateLimiter{
		visitors:  make(map[string]*visitor),
		capacity:  capacity,
		interval:  interval,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > idleLimiterTTL {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > idleLimiterTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[key]
	if !ok {
		every := rl.interval / time.Duration(rl.capacity)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), rl.capacity)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Throttle rejects requests beyond capacity per interval from one address
// with 429.
func Throttle(capacity int, interval time.Duration) func(http.Handler) http.Handler {
	rl := newRateLimiter(capacity, interval)
	detail := fmt.Sprintf("Rate limit exceeded: %d per %s", rl.capacity, rl.interval)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientAddr(r)) {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.interval.Seconds())))
				writeError(w, http.StatusTooManyRequests, detail)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr is the request's remote host without port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
