package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth requires a static bearer token on /v1/ routes. An empty token
// disables the check.
func Auth(requiredToken string) func(http.Handler) http.Handler {
	expected := []byte(requiredToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") || requiredToken == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			token := []byte(strings.TrimSpace(strings.TrimPrefix(authorization, prefix)))
			if len(token) == 0 || subtle.ConstantTimeCompare(token, expected) != 1 {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
