package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/middleware"
	"github.com/tripletsrewards/server/internal/model"
)

// AuthHandler handles the login state machine, logout and password reset endpoints
type AuthHandler struct {
	authService *auth.Service
	logger      *zerolog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service, logger *zerolog.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, logger: logger}
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// secondFactorRequest is the request body for POST /auth/2fa/verify
type secondFactorRequest struct {
	PendingToken string `json:"pending_token" validate:"required"`
	Code         string `json:"code" validate:"required"`
}

type pendingTokenRequest struct {
	PendingToken string `json:"pending_token" validate:"required"`
}

type resetRequest struct {
	Username string `json:"username" validate:"required"`
}

type completeResetRequest struct {
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// accountResponse is the account object in API responses
type accountResponse struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	FirstName       string     `json:"first_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	Role            model.Role `json:"role"`
	Active          bool       `json:"active"`
	Points          int        `json:"points"`
	TOTPEnabled     bool       `json:"totp_enabled"`
	Email2FAEnabled bool       `json:"email_2fa_enabled"`
	EmailVerified   bool       `json:"email_verified"`
	Locked          bool       `json:"locked"`
}

func toAccountResponse(a model.Account) accountResponse {
	return accountResponse{
		ID:              a.ID.String(),
		Username:        a.Username,
		Email:           a.Email,
		Phone:           a.Phone,
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		Role:            a.Role,
		Active:          a.Active,
		Points:          a.Points,
		TOTPEnabled:     a.TOTPEnabled,
		Email2FAEnabled: a.Email2FAEnabled,
		EmailVerified:   a.EmailVerified,
		Locked:          a.Locked,
	}
}

// transitionResponse carries the outcome directive of a login step
type transitionResponse struct {
	State             auth.State       `json:"state"`
	Method            auth.Method      `json:"method,omitempty"`
	Token             string           `json:"token,omitempty"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	Landing           string           `json:"landing,omitempty"`
	Message           string           `json:"message,omitempty"`
	AttemptsRemaining *int             `json:"attempts_remaining,omitempty"`
	LockReason        model.LockReason `json:"lock_reason,omitempty"`
	LockedUntil       *time.Time       `json:"locked_until,omitempty"`
	Account           *accountResponse `json:"account,omitempty"`
}

func toTransitionResponse(tr auth.Transition) transitionResponse {
	resp := transitionResponse{
		State:       tr.State,
		Method:      tr.Method,
		Token:       tr.Token,
		Landing:     tr.Landing,
		Message:     tr.Message,
		LockReason:  tr.LockReason,
		LockedUntil: tr.LockedUntil,
	}
	if !tr.ExpiresAt.IsZero() {
		exp := tr.ExpiresAt
		resp.ExpiresAt = &exp
	}
	if tr.State == auth.StateRejected {
		remaining := tr.AttemptsRemaining
		resp.AttemptsRemaining = &remaining
	}
	if tr.Account != nil {
		a := toAccountResponse(*tr.Account)
		resp.Account = &a
	}
	return resp
}

func transitionStatus(tr auth.Transition) int {
	switch tr.State {
	case auth.StateRejected:
		return http.StatusUnauthorized
	case auth.StateLockedOut:
		return http.StatusLocked
	default:
		return http.StatusOK
	}
}

// respondTransition writes the login outcome. Rejections and lockouts are answered with
// their directive, anything else falls through to writeError.
func (h *AuthHandler) respondTransition(w http.ResponseWriter, tr auth.Transition, err error) {
	if err != nil && tr.State == "" {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, transitionStatus(tr), toTransitionResponse(tr))
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	tr, err := h.authService.SubmitCredentials(r.Context(), req.Username, req.Password, middleware.ClientIP(r))
	h.respondTransition(w, tr, err)
}

// HandleVerifySecondFactor handles POST /auth/2fa/verify
func (h *AuthHandler) HandleVerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	tr, err := h.authService.VerifySecondFactor(r.Context(), req.PendingToken, req.Code, middleware.ClientIP(r))
	if err != nil && tr.State == auth.StatePending {
		// still waiting: keep the marker, report why the code failed
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, auth.ErrExpired):
			status = http.StatusGone
		case errors.Is(err, auth.ErrRateLimited):
			status = http.StatusTooManyRequests
		}
		resp := toTransitionResponse(tr)
		resp.Token = req.PendingToken
		respondJSON(w, status, resp)
		return
	}
	h.respondTransition(w, tr, err)
}

// HandleResendCode handles POST /auth/2fa/resend
func (h *AuthHandler) HandleResendCode(w http.ResponseWriter, r *http.Request) {
	var req pendingTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.ResendLoginCode(r.Context(), req.PendingToken); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "A new login code has been sent to your email.")
}

// HandleLogout handles POST /auth/logout (protected)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.GetSessionToken(r.Context())
	if err := h.authService.Logout(r.Context(), token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "You have been logged out.")
}

// HandleLanding handles GET /landing (protected)
func (h *AuthHandler) HandleLanding(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"role":    string(acct.Role),
		"landing": auth.LandingFor(acct.Role),
	})
}

// HandleRequestReset handles POST /auth/reset. The answer never reveals whether the account exists.
func (h *AuthHandler) HandleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.RequestReset(r.Context(), req.Username, middleware.ClientIP(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, auth.ResetRequestedMessage)
}

// HandleCompleteReset handles POST /auth/reset/{token}
func (h *AuthHandler) HandleCompleteReset(w http.ResponseWriter, r *http.Request) {
	var req completeResetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	token := urlParam(r, "token")
	if err := h.authService.CompleteReset(r.Context(), token, req.Password, req.ConfirmPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "This password reset link is invalid.")
		case errors.Is(err, auth.ErrExpired):
			respondWithError(w, http.StatusGone, "This password reset link has expired. Please request a new one.")
		default:
			writeError(w, h.logger, err)
		}
		return
	}
	respondMessage(w, "Your password has been reset. You can now log in.")
}
