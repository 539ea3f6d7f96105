package gateway

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rateLimiter enforces a sliding-window request cap per remote address and
// route prefix, independent of authorization state.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	limit  int
	window time.Duration
}

const (
	defaultRateLimit  = 120
	defaultRateWindow = 1 * time.Minute

	// rateSweepAge is how long after its last request an idle window is
	// garbage-collected.
	rateSweepAge = 5 * time.Minute
)

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &rateLimiter{
		windows: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
	}
}

// allow records a request for the addr+prefix key and reports whether it is
// within the window's budget.
func (rl *rateLimiter) allow(addr, routePrefix string) bool {
	key := addr + " " + routePrefix
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	times := rl.windows[key]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rl.limit {
		rl.windows[key] = kept
		return false
	}
	rl.windows[key] = append(kept, now)
	return true
}

// sweep removes idle windows. Call periodically from a background goroutine.
func (rl *rateLimiter) sweep() {
	cutoff := time.Now().Add(-rateSweepAge)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, times := range rl.windows {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(rl.windows, key)
		}
	}
}

// routePrefix buckets paths so that, e.g., every push shares one window.
func routePrefix(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		return "/" + parts[0] + "/" + parts[1]
	}
	return "/" + parts[0]
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware rejects over-budget requests with 429 before any
// authorization work happens.
func (g *Gateway) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.allow(remoteAddr(r), routePrefix(r.URL.Path)) {
			g.metrics.incr(metricRateLimited)
			writeRateLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
