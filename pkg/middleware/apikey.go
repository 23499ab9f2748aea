// pkg/middleware/apikey.go
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyAuth guards the control-plane API with a static service credential.
// Health and metrics endpoints stay open.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			if apiKey == "" {
				http.Error(w, "api auth not configured", http.StatusInternalServerError)
				return
			}
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			presented := strings.TrimSpace(authz[len("Bearer "):])
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
