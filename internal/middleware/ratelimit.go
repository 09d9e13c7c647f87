package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pruneThreshold bounds how many expired windows may pile up before a sweep.
const pruneThreshold = 1024

type window struct {
	used  int
	reset time.Time
}

// fixedWindow counts requests per key in fixed windows of length per.
type fixedWindow struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	windows map[string]*window
}

func newFixedWindow(limit int, per time.Duration) *fixedWindow {
	return &fixedWindow{limit: limit, per: per, windows: make(map[string]*window)}
}

// allow consumes one request for key. When the key is exhausted it reports
// how long until its window resets.
func (f *fixedWindow) allow(key string, now time.Time) (bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.windows) > pruneThreshold {
		for k, w := range f.windows {
			if !now.Before(w.reset) {
				delete(f.windows, k)
			}
		}
	}
	w, ok := f.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(f.per)}
		f.windows[key] = w
	}
	if w.used >= f.limit {
		return false, w.reset.Sub(now)
	}
	w.used++
	return true, 0
}

// RateLimit allows limit requests per client IP in each window of length per.
// A non-positive limit disables the middleware.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newFixedWindow(limit, per)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.allow(clientKey(r), time.Now())
			if !ok {
				secs := int(wait.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","detail":"too many job submissions"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey picks the first parseable X-Forwarded-For address, falling back
// to the host part of RemoteAddr.
func clientKey(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := strings.TrimSpace(part); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
