package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter keeps one token bucket per key (client IP or field id).
// Idle buckets are swept out periodically so the map stays bounded.
type keyedLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// perWindow builds a limiter allowing n requests per window with the given
// burst. Buckets untouched for an hour are reclaimed.
func perWindow(n int, window time.Duration, burst int) *keyedLimiter {
	return &keyedLimiter{
		limit:   rate.Limit(float64(n) / window.Seconds()),
		burst:   burst,
		idle:    time.Hour,
		buckets: make(map[string]*bucket),
	}
}

func (l *keyedLimiter) allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.nextSweep = now.Add(l.idle / 4)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.Allow()
}

// getClientIP prefers the first X-Forwarded-For hop, then the socket peer.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hop, _, _ := strings.Cut(xff, ",")
		if hop = strings.TrimSpace(hop); hop != "" {
			return hop
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
