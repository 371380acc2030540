package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/middleware"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/rewards"
)

// AccountHandler serves the signed-in account's own settings
type AccountHandler struct {
	authService    *auth.Service
	rewardsService *rewards.Service
	logger         *zerolog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(authService *auth.Service, rewardsService *rewards.Service, logger *zerolog.Logger) *AccountHandler {
	return &AccountHandler{authService: authService, rewardsService: rewardsService, logger: logger}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

type contactRequest struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required"`
}

type totpEnrollmentResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCodePNG       string `json:"qr_code_png"`
}

func (h *AccountHandler) account(w http.ResponseWriter, r *http.Request) (model.Account, bool) {
	acct, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return model.Account{}, false
	}
	return *acct, true
}

// HandleMe handles GET /account/me
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toAccountResponse(acct))
}

// HandleChangePassword handles POST /account/password
func (h *AccountHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.ChangePassword(r.Context(), acct, req.CurrentPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Your password has been updated.")
}

// HandleUpdateContact handles POST /account/contact
func (h *AccountHandler) HandleUpdateContact(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	var req contactRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.rewardsService.UpdateContact(r.Context(), acct, req.Email, req.Phone); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Your contact information has been updated.")
}

// HandleBeginTOTP handles POST /account/2fa/totp/setup
func (h *AccountHandler) HandleBeginTOTP(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	enr, err := h.authService.BeginTOTPEnrollment(r.Context(), acct)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, totpEnrollmentResponse{
		Secret:          enr.Secret,
		ProvisioningURI: enr.ProvisioningURI,
		QRCodePNG:       base64.StdEncoding.EncodeToString(enr.QRCodePNG),
	})
}

// HandleConfirmTOTP handles POST /account/2fa/totp/confirm
func (h *AccountHandler) HandleConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.ConfirmTOTPEnrollment(r.Context(), acct, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Authenticator app enabled.")
}

// HandleDisableTOTP handles POST /account/2fa/totp/disable
func (h *AccountHandler) HandleDisableTOTP(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	if err := h.authService.DisableTOTP(r.Context(), acct); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Authenticator app disabled.")
}

// HandleBeginEmail2FA handles POST /account/2fa/email/setup
func (h *AccountHandler) HandleBeginEmail2FA(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	if err := h.authService.BeginEmail2FASetup(r.Context(), acct); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "A verification code was sent to your email.")
}

// HandleConfirmEmail2FA handles POST /account/2fa/email/confirm
func (h *AccountHandler) HandleConfirmEmail2FA(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.ConfirmEmail2FASetup(r.Context(), acct, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Email two-factor authentication enabled.")
}

// HandleEnableEmail2FA handles POST /account/2fa/email/enable
func (h *AccountHandler) HandleEnableEmail2FA(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	if err := h.authService.EnableEmail2FA(r.Context(), acct); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Email two-factor authentication enabled.")
}

// HandleDisableEmail2FA handles POST /account/2fa/email/disable
func (h *AccountHandler) HandleDisableEmail2FA(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	if err := h.authService.DisableEmail2FA(r.Context(), acct); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Email two-factor authentication disabled.")
}
