package rewards

import (
	"context"
	"errors"

	"github.com/tripletsrewards/server/internal/model"
)

// AdminDashboard is the administrator overview: accounts per role and recent audit events
type AdminDashboard struct {
	AccountsByRole map[model.Role]int
	RecentEvents   []model.AuditEvent
}

// SponsorDashboard is a sponsor's organization with its applications and store settings
type SponsorDashboard struct {
	Organization        *model.Sponsor
	PendingApplications []model.DriverApplication
	AcceptedDrivers     []model.Account
	Settings            *model.StoreSettings
}

// DriverDashboard is a driver's balance, applications and latest notifications
type DriverDashboard struct {
	Points        int
	Applications  []model.DriverApplication
	Notifications []model.Notification
}

// AdminDashboard loads the administrator overview
func (s *Service) AdminDashboard(ctx context.Context) (AdminDashboard, error) {
	counts, err := s.accounts.CountByRole(ctx)
	if err != nil {
		return AdminDashboard{}, err
	}
	events, err := s.auditLog.ListRecent(ctx, recentEventsLimit)
	if err != nil {
		return AdminDashboard{}, err
	}
	return AdminDashboard{AccountsByRole: counts, RecentEvents: events}, nil
}

// SponsorDashboard works for sponsor accounts without an organization; the org parts stay empty
func (s *Service) SponsorDashboard(ctx context.Context, sponsor model.Account) (SponsorDashboard, error) {
	org, err := s.organization(ctx, sponsor)
	if errors.Is(err, ErrNoOrganization) {
		return SponsorDashboard{}, nil
	}
	if err != nil {
		return SponsorDashboard{}, err
	}

	pending, err := s.applications.ListBySponsor(ctx, org.AccountID, model.ApplicationPending)
	if err != nil {
		return SponsorDashboard{}, err
	}
	accepted, err := s.applications.AcceptedDrivers(ctx, org.AccountID)
	if err != nil {
		return SponsorDashboard{}, err
	}
	settings, err := s.sponsors.GetSettings(ctx, org.AccountID)
	if err != nil {
		return SponsorDashboard{}, err
	}
	return SponsorDashboard{
		Organization:        &org,
		PendingApplications: pending,
		AcceptedDrivers:     accepted,
		Settings:            &settings,
	}, nil
}

// DriverDashboard reads the current balance rather than the session copy of the account
func (s *Service) DriverDashboard(ctx context.Context, driver model.Account) (DriverDashboard, error) {
	current, err := s.accounts.GetByID(ctx, driver.ID)
	if err != nil {
		return DriverDashboard{}, err
	}
	apps, err := s.applications.ListByDriver(ctx, driver.ID)
	if err != nil {
		return DriverDashboard{}, err
	}
	notes, err := s.notifications.ListForRecipient(ctx, driver.ID, notificationsLimit)
	if err != nil {
		return DriverDashboard{}, err
	}
	return DriverDashboard{Points: current.Points, Applications: apps, Notifications: notes}, nil
}
