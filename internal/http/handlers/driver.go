package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/middleware"
	"github.com/tripletsrewards/server/internal/rewards"
)

// DriverHandler serves the driver area
type DriverHandler struct {
	rewardsService *rewards.Service
	logger         *zerolog.Logger
}

// NewDriverHandler creates a new driver handler
func NewDriverHandler(rewardsService *rewards.Service, logger *zerolog.Logger) *DriverHandler {
	return &DriverHandler{rewardsService: rewardsService, logger: logger}
}

type applyRequest struct {
	OrgName string `json:"org_name" validate:"required"`
}

type driverDashboardResponse struct {
	Points        int                    `json:"points"`
	Applications  []applicationResponse  `json:"applications"`
	Notifications []notificationResponse `json:"notifications"`
}

// HandleDashboard handles GET /driver/dashboard
func (h *DriverHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	driver, _ := middleware.GetAccount(r.Context())
	d, err := h.rewardsService.DriverDashboard(r.Context(), *driver)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, driverDashboardResponse{
		Points:        d.Points,
		Applications:  mapSlice(d.Applications, toApplicationResponse),
		Notifications: mapSlice(d.Notifications, toNotificationResponse),
	})
}

// HandleApply handles POST /driver/applications
func (h *DriverHandler) HandleApply(w http.ResponseWriter, r *http.Request) {
	driver, _ := middleware.GetAccount(r.Context())
	var req applyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	app, err := h.rewardsService.Apply(r.Context(), *driver, req.OrgName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, toApplicationResponse(app))
}
