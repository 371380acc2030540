package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/bulkload"
	"github.com/tripletsrewards/server/internal/middleware"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/rewards"
)

// AdminHandler serves the administrator area
type AdminHandler struct {
	authService    *auth.Service
	rewardsService *rewards.Service
	bulk           *bulkload.Processor
	logger         *zerolog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(authService *auth.Service, rewardsService *rewards.Service, bulk *bulkload.Processor, logger *zerolog.Logger) *AdminHandler {
	return &AdminHandler{authService: authService, rewardsService: rewardsService, bulk: bulk, logger: logger}
}

type createSponsorUserRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type lockRequest struct {
	Until time.Time `json:"until" validate:"required"`
}

type adminDashboardResponse struct {
	AccountsByRole map[model.Role]int   `json:"accounts_by_role"`
	RecentEvents   []auditEventResponse `json:"recent_events"`
}

// HandleDashboard handles GET /admin/dashboard
func (h *AdminHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.rewardsService.AdminDashboard(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, adminDashboardResponse{
		AccountsByRole: d.AccountsByRole,
		RecentEvents:   mapSlice(d.RecentEvents, toAuditEventResponse),
	})
}

// HandleListSponsorUsers handles GET /admin/sponsors
func (h *AdminHandler) HandleListSponsorUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.rewardsService.ListSponsorUsers(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, mapSlice(users, toAccountResponse))
}

// HandleCreateSponsorUser handles POST /admin/sponsors
func (h *AdminHandler) HandleCreateSponsorUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetAccount(r.Context())
	var req createSponsorUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	nu, err := h.rewardsService.CreateSponsorUser(r.Context(), *actor, req.Username, req.Email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, newUserResponse{Account: toAccountResponse(nu.Account), TempPassword: nu.TempPassword})
}

// HandleLockAccount handles POST /admin/accounts/{id}/lock
func (h *AdminHandler) HandleLockAccount(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetAccount(r.Context())
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req lockRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.LockAccount(r.Context(), *actor, id, req.Until); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Account locked.")
}

// HandleUnlockAccount handles POST /admin/accounts/{id}/unlock
func (h *AdminHandler) HandleUnlockAccount(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetAccount(r.Context())
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.authService.UnlockAccount(r.Context(), *actor, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Account unlocked.")
}

// HandleBulkUpload handles POST /admin/bulk
func (h *AdminHandler) HandleBulkUpload(w http.ResponseWriter, r *http.Request) {
	handleBulkUpload(w, r, h.bulk, bulkload.ModeAdmin, h.logger)
}

// HandleBulkTemplate handles GET /admin/bulk/template
func (h *AdminHandler) HandleBulkTemplate(w http.ResponseWriter, r *http.Request) {
	handleBulkTemplate(w, bulkload.ModeAdmin)
}

// HandleBulkLog handles GET /admin/bulk/logs/{name}
func (h *AdminHandler) HandleBulkLog(w http.ResponseWriter, r *http.Request) {
	handleBulkLog(w, r, h.bulk, h.logger)
}
