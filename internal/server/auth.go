package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/restyle-ai/llmpool/internal/httputil"
)

// AuthMiddleware authenticates requests against the configured service
// token. An empty token disables authentication (local development).
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <token>")
				return
			}

			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if presented == authHeader {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <token>")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httputil.WriteAuthError(w, reqID, "Invalid service token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
