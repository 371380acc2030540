package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/bulkload"
	"github.com/tripletsrewards/server/internal/rewards"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// respondJSON writes v as a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

func respondMessage(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusOK, map[string]string{"message": message})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the 400 response itself and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// writeError maps service errors to status codes. Infrastructure failures are logged
// and answered with a generic 500.
func writeError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		respondWithError(w, http.StatusLocked, locked.Message())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, rewards.ErrNotFound), errors.Is(err, bulkload.ErrBadLogName):
		respondWithError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrExpired):
		respondWithError(w, http.StatusGone, "expired")
	case errors.Is(err, auth.ErrRateLimited):
		respondWithError(w, http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, auth.ErrInvalidCredential):
		respondWithError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrPreconditionFailed), errors.Is(err, rewards.ErrNoOrganization), errors.Is(err, bulkload.ErrNoOrganization):
		respondWithError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, auth.ErrPasswordPolicy), errors.Is(err, rewards.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rewards.ErrConflict):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrDeliveryFailed):
		logger.Warn().Err(err).Msg("message delivery failed")
		respondWithError(w, http.StatusServiceUnavailable, "We could not send the message. Please try again later.")
	default:
		logger.Error().Err(err).Msg("request failed")
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// uuidParam parses a UUID path parameter, writing a 404 when it is malformed
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	return id, true
}
