package ops

import (
	"net/http"
	"strings"
)

// exemptPaths bypass authentication so liveness and readiness probes work
// without credentials.
var exemptPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
}

// BearerAuthMiddleware returns a middleware that validates Bearer tokens.
// If tokens is empty, authentication is disabled (pass-through).
func BearerAuthMiddleware(tokens []string) func(http.Handler) http.Handler {
	validTokens := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			validTokens[t] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		// Auth disabled — pass everything through
		if len(validTokens) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeAuthError(w, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeAuthError(w, "authorization header must use Bearer scheme")
				return
			}

			if _, ok := validTokens[auth[len(bearerPrefix):]]; !ok {
				writeAuthError(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"code":    "unauthorized",
		"message": message,
	})
}
