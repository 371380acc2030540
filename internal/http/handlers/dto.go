package handlers

import (
	"time"

	"github.com/tripletsrewards/server/internal/model"
)

type auditEventResponse struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

type applicationResponse struct {
	ID             string                  `json:"id"`
	DriverID       string                  `json:"driver_id"`
	DriverUsername string                  `json:"driver_username,omitempty"`
	SponsorID      string                  `json:"sponsor_id"`
	Status         model.ApplicationStatus `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
	DecidedAt      *time.Time              `json:"decided_at,omitempty"`
}

type notificationResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type organizationResponse struct {
	SponsorID string    `json:"sponsor_id"`
	OrgName   string    `json:"org_name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type settingsResponse struct {
	EbayCategoryID string    `json:"ebay_category_id"`
	PointRatio     int       `json:"point_ratio"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

type newUserResponse struct {
	Account      accountResponse `json:"account"`
	TempPassword string          `json:"temp_password"`
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func toAuditEventResponse(e model.AuditEvent) auditEventResponse {
	return auditEventResponse{ID: e.ID, Kind: e.Kind, Details: e.Details, CreatedAt: e.CreatedAt}
}

func toApplicationResponse(a model.DriverApplication) applicationResponse {
	return applicationResponse{
		ID:             a.ID.String(),
		DriverID:       a.DriverID.String(),
		DriverUsername: a.DriverUsername,
		SponsorID:      a.SponsorID.String(),
		Status:         a.Status,
		CreatedAt:      a.CreatedAt,
		DecidedAt:      a.DecidedAt,
	}
}

func toNotificationResponse(n model.Notification) notificationResponse {
	return notificationResponse{ID: n.ID.String(), Message: n.Message, CreatedAt: n.CreatedAt}
}

func toOrganizationResponse(s model.Sponsor) organizationResponse {
	return organizationResponse{SponsorID: s.AccountID.String(), OrgName: s.OrgName, Status: s.Status, CreatedAt: s.CreatedAt}
}

func toSettingsResponse(s model.StoreSettings) settingsResponse {
	return settingsResponse{EbayCategoryID: s.EbayCategoryID, PointRatio: s.PointRatio, UpdatedAt: s.UpdatedAt}
}
