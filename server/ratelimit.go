package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter enforces a per-client sliding window. Clients are keyed
// by remote IP; stale windows are pruned on access.
type rateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	clients map[string][]time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:     max,
		window:  window,
		clients: make(map[string][]time.Time),
	}
}

// setLimits swaps the window parameters in place; recorded requests
// are re-judged against the new limits on their next access.
func (rl *rateLimiter) setLimits(max int, window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.max = max
	rl.window = window
}

// allow records one request for key and reports whether it fits the
// window.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	times := rl.clients[key]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rl.max {
		rl.clients[key] = kept
		return false
	}
	rl.clients[key] = append(kept, now)
	return true
}

// middleware rejects over-limit clients with 429 before any handler
// work happens.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			key = r.RemoteAddr
		}
		if !rl.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
