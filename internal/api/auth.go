package api

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
)

// BearerAuth rejects requests whose Authorization header does not carry
// token. Paths listed in open skip the check.
func BearerAuth(token string, open ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(open, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			const prefix = "Bearer "
			auth, ok := strings.CutPrefix(r.Header.Get("Authorization"), prefix)
			if !ok || subtle.ConstantTimeCompare([]byte(auth), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
