package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// bearerAuth guards the session routes with a static API token. The scheme
// name is matched case-insensitively; the token itself is compared in
// constant time.
func bearerAuth(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, got, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") ||
				subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				logger.Debug("rejected API request",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="omnidesk"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
