package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/znz-systems/mailmind/internal/ratelimit"
)

// RateLimit returns middleware that rate-limits requests per signed-in user,
// falling back to the client IP for anonymous requests. When the rate limit
// is exceeded, it responds with a 429 Too Many Requests status and a JSON
// error body.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(rateKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if user := UserFromContext(r.Context()); user != nil {
		return "user:" + user.ID
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If RemoteAddr has no port, use it as-is.
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}
