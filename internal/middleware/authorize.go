package middleware

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/model"
)

// Policy decides whether a role may call a route
type Policy interface {
	Allow(role model.Role, path, method string) (bool, error)
}

// Authorize rejects requests whose account role the policy does not allow. It must run after AuthMiddleware.
func Authorize(policy Policy, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acct, ok := GetAccount(r.Context())
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			allowed, err := policy.Allow(acct.Role, r.URL.Path, r.Method)
			if err != nil {
				logger.Error().Err(err).Str("path", r.URL.Path).Msg("authorize")
				respondWithError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !allowed {
				logger.Warn().Str("username", acct.Username).Str("role", string(acct.Role)).
					Str("method", r.Method).Str("path", r.URL.Path).Msg("access denied")
				respondWithError(w, http.StatusForbidden, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
