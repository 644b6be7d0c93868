package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type rateWindow struct {
	count int
	until time.Time
}

// RateLimit caps requests per client IP within a fixed window. When a window
// rolls over, every expired entry is swept so the map only tracks clients
// seen in the current period.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	windows := make(map[string]*rateWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIPForRateLimit(r)
			now := time.Now()

			mu.Lock()
			win, ok := windows[ip]
			if !ok || now.After(win.until) {
				for key, stale := range windows {
					if now.After(stale.until) {
						delete(windows, key)
					}
				}
				win = &rateWindow{until: now.Add(per)}
				windows[ip] = win
			}
			if win.count >= limit {
				mu.Unlock()
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			win.count++
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// clientIPForRateLimit prefers the first valid X-Forwarded-For address and
// falls back to the connection's remote host.
func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
