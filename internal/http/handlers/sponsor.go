package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/bulkload"
	"github.com/tripletsrewards/server/internal/middleware"
	"github.com/tripletsrewards/server/internal/rewards"
)

// SponsorHandler serves the sponsor area. Every operation acts on the caller's own organization.
type SponsorHandler struct {
	rewardsService *rewards.Service
	bulk           *bulkload.Processor
	logger         *zerolog.Logger
}

// NewSponsorHandler creates a new sponsor handler
func NewSponsorHandler(rewardsService *rewards.Service, bulk *bulkload.Processor, logger *zerolog.Logger) *SponsorHandler {
	return &SponsorHandler{rewardsService: rewardsService, bulk: bulk, logger: logger}
}

type addDriverRequest struct {
	Username  string `json:"username" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type pointsRequest struct {
	Action string `json:"action" validate:"required,oneof=award remove"`
	Points int    `json:"points" validate:"gt=0,lte=1000000"`
	Reason string `json:"reason"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=accept reject"`
}

type settingsRequest struct {
	EbayCategoryID string `json:"ebay_category_id"`
	PointRatio     int    `json:"point_ratio" validate:"gt=0"`
}

type sponsorDashboardResponse struct {
	Organization        *organizationResponse `json:"organization"`
	PendingApplications []applicationResponse `json:"pending_applications"`
	AcceptedDrivers     []accountResponse     `json:"accepted_drivers"`
	Settings            *settingsResponse     `json:"settings"`
}

// HandleDashboard handles GET /sponsor/dashboard
func (h *SponsorHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	sponsor, _ := middleware.GetAccount(r.Context())
	d, err := h.rewardsService.SponsorDashboard(r.Context(), *sponsor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := sponsorDashboardResponse{
		PendingApplications: mapSlice(d.PendingApplications, toApplicationResponse),
		AcceptedDrivers:     mapSlice(d.AcceptedDrivers, toAccountResponse),
	}
	if d.Organization != nil {
		org := toOrganizationResponse(*d.Organization)
		resp.Organization = &org
	}
	if d.Settings != nil {
		st := toSettingsResponse(*d.Settings)
		resp.Settings = &st
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleListDrivers handles GET /sponsor/drivers?search=&status=
func (h *SponsorHandler) HandleListDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	drivers, err := h.rewardsService.ListDrivers(r.Context(), q.Get("search"), q.Get("status"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, mapSlice(drivers, toAccountResponse))
}

// HandleAddDriver handles POST /sponsor/drivers
func (h *SponsorHandler) HandleAddDriver(w http.ResponseWriter, r *http.Request) {
	sponsor, _ := middleware.GetAccount(r.Context())
	var req addDriverRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	nu, err := h.rewardsService.AddDriver(r.Context(), *sponsor, req.Username, req.Email, req.FirstName, req.LastName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, newUserResponse{Account: toAccountResponse(nu.Account), TempPassword: nu.TempPassword})
}

// HandleAdjustPoints handles POST /sponsor/drivers/{id}/points
func (h *SponsorHandler) HandleAdjustPoints(w http.ResponseWriter, r *http.Request) {
	sponsor, _ := middleware.GetAccount(r.Context())
	driverID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req pointsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	balance, err := h.rewardsService.AdjustPoints(r.Context(), *sponsor, driverID, rewards.PointsAction(req.Action), req.Points, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"points": balance})
}

// HandlePendingApplications handles GET /sponsor/applications
func (h *SponsorHandler) HandlePendingApplications(w http.ResponseWriter, r *http.Request) {
	sponsor, _ := middleware.GetAccount(r.Context())
	apps, err := h.rewardsService.PendingApplications(r.Context(), *sponsor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, mapSlice(apps, toApplicationResponse))
}

// HandleDecideApplication handles POST /sponsor/applications/{id}
func (h *SponsorHandler) HandleDecideApplication(w http.ResponseWriter, r *http.Request) {
	sponsor, _ := middleware.GetAccount(r.Context())
	appID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req decisionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.rewardsService.DecideApplication(r.Context(), *sponsor, appID, req.Decision); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondMessage(w, "Application "+req.Decision+"ed.")
}

// HandleAcceptedDrivers handles GET /sponsor/accepted
func (h *SponsorHandler) HandleAcceptedDrivers(w http.ResponseWriter, r *http.Request) {
	sponsor, _ := middleware.GetAccount(r.Context())
	drivers, err := h.rewardsService.AcceptedDrivers(r.Context(), *sponsor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, mapSlice(drivers, toAccountResponse))
}

// HandleGetSettings handles GET /sponsor/settings
func (h *SponsorHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	sponsor, _ := middleware.GetAccount(r.Context())
	st, err := h.rewardsService.Settings(r.Context(), *sponsor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toSettingsResponse(st))
}

// HandleUpdateSettings handles POST /sponsor/settings
func (h *SponsorHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	sponsor, _ := middleware.GetAccount(r.Context())
	var req settingsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	st, err := h.rewardsService.UpdateSettings(r.Context(), *sponsor, req.EbayCategoryID, req.PointRatio)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toSettingsResponse(st))
}

// HandleBulkUpload handles POST /sponsor/bulk
func (h *SponsorHandler) HandleBulkUpload(w http.ResponseWriter, r *http.Request) {
	handleBulkUpload(w, r, h.bulk, bulkload.ModeSponsor, h.logger)
}

// HandleBulkTemplate handles GET /sponsor/bulk/template
func (h *SponsorHandler) HandleBulkTemplate(w http.ResponseWriter, r *http.Request) {
	handleBulkTemplate(w, bulkload.ModeSponsor)
}
