package api

import (
	"net"
	"net/http"
)

// rateLimitMiddleware rejects clients that exceed their token bucket.
// Health probes are never limited.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authBypassPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := remoteIP(r)
		if !s.rateLimiter.Allow(clientIP) {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
