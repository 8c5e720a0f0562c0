package middleware

import (
	"context"
	"net/http"
)

const (
	// ClientIPContextKey is the context key for the resolved client IP.
	ClientIPContextKey contextKey = "client_ip"
)

// WithClientIP resolves the shopper's real IP once, up front, and
// stores it in the context. Resolution follows GetClientIP in
// ratelimit.go, which prefers proxy headers (X-Forwarded-For,
// X-Real-IP) over RemoteAddr.
//
// The gateway normally runs behind a reverse proxy that terminates TLS
// and sets these headers. If shoppers can reach the gateway directly,
// the headers are spoofable and rate limits keyed on them are not
// trustworthy.
func WithClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ClientIPContextKey, GetClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIPFromContext returns the client IP stored by WithClientIP,
// or "" when the middleware did not run.
func GetClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPContextKey).(string); ok {
		return ip
	}
	return ""
}
