package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/model"
)

type contextKey string

const (
	accountKey contextKey = "account"
	tokenKey   contextKey = "session_token"
)

// Authenticator resolves a session token to its account
type Authenticator interface {
	Authenticate(ctx context.Context, sessionToken string) (model.Account, error)
}

// AuthMiddleware validates the bearer session token and attaches the account to the context
func AuthMiddleware(authn Authenticator, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			acct, err := authn.Authenticate(r.Context(), tokenString)
			if err != nil {
				var locked *auth.LockedError
				switch {
				case errors.As(err, &locked):
					respondWithError(w, http.StatusLocked, locked.Message())
				case errors.Is(err, auth.ErrInvalidCredential):
					respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				default:
					logger.Error().Err(err).Msg("authenticate session")
					respondWithError(w, http.StatusInternalServerError, "internal error")
				}
				return
			}

			ctx := context.WithValue(r.Context(), accountKey, &acct)
			ctx = context.WithValue(ctx, tokenKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetAccount returns the account attached by AuthMiddleware
func GetAccount(ctx context.Context) (*model.Account, bool) {
	a, ok := ctx.Value(accountKey).(*model.Account)
	return a, ok && a != nil
}

// GetSessionToken returns the raw session token attached by AuthMiddleware
func GetSessionToken(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok
}

// WithAccount attaches acct to ctx the way AuthMiddleware does
func WithAccount(ctx context.Context, acct *model.Account) context.Context {
	return context.WithValue(ctx, accountKey, acct)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
