package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/audit"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/repo"
)

const (
	tempPasswordLength  = 10
	defaultRemoveReason = "No reason provided."
	recentEventsLimit   = 20
	notificationsLimit  = 20
)

// MaxPointsAdjustment caps a single award or removal
const MaxPointsAdjustment = 1_000_000

// Service implements the sponsor, driver and administrator features
type Service struct {
	accounts      repo.AccountRepo
	sponsors      repo.SponsorRepo
	applications  repo.ApplicationRepo
	notifications repo.NotificationRepo
	auditLog      repo.AuditRepo
	hasher        *auth.PasswordHasher
	audit         audit.Sink
	validate      *validator.Validate
	logger        *zerolog.Logger
	now           func() time.Time
}

// NewService creates a new rewards service
func NewService(
	accounts repo.AccountRepo,
	sponsors repo.SponsorRepo,
	applications repo.ApplicationRepo,
	notifications repo.NotificationRepo,
	auditLog repo.AuditRepo,
	hasher *auth.PasswordHasher,
	sink audit.Sink,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		accounts:      accounts,
		sponsors:      sponsors,
		applications:  applications,
		notifications: notifications,
		auditLog:      auditLog,
		hasher:        hasher,
		audit:         sink,
		validate:      validator.New(),
		logger:        logger,
		now:           time.Now,
	}
}

// NewUser is an account created by a sponsor or administrator, with its one-time password
type NewUser struct {
	Account      model.Account
	TempPassword string
}

// CreateSponsorUser creates a sponsor account with a random temporary password
func (s *Service) CreateSponsorUser(ctx context.Context, actor model.Account, username, email string) (NewUser, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if username == "" {
		return NewUser{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email != "" {
		if err := s.validate.Var(email, "email"); err != nil {
			return NewUser{}, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
		}
	}

	nu, err := s.createAccount(ctx, model.NewAccount{
		Username:  username,
		Email:     email,
		FirstName: "Sponsor",
		LastName:  "User",
		Role:      model.RoleSponsor,
	}, func(na model.NewAccount) (model.Account, error) {
		return s.accounts.Create(ctx, na)
	})
	if err != nil {
		return NewUser{}, err
	}
	s.audit.Record(ctx, audit.KindSponsorUser, audit.F("by", actor.Username), audit.F("new_user", username), audit.F("role", model.RoleSponsor))
	return nu, nil
}

// ListSponsorUsers returns all sponsor accounts ordered by username
func (s *Service) ListSponsorUsers(ctx context.Context) ([]model.Account, error) {
	return s.accounts.List(ctx, repo.AccountFilter{Role: model.RoleSponsor})
}

// AddDriver creates a driver account with a random temporary password
func (s *Service) AddDriver(ctx context.Context, actor model.Account, username, email, firstName, lastName string) (NewUser, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if username == "" || email == "" {
		return NewUser{}, fmt.Errorf("%w: username and email are required", ErrInvalidInput)
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return NewUser{}, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if firstName == "" {
		firstName = "New"
	}
	if lastName == "" {
		lastName = "Driver"
	}

	nu, err := s.createAccount(ctx, model.NewAccount{
		Username:  username,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Role:      model.RoleDriver,
	}, func(na model.NewAccount) (model.Account, error) {
		return s.accounts.CreateDriver(ctx, na, "", nil)
	})
	if err != nil {
		return NewUser{}, err
	}
	s.audit.Record(ctx, audit.KindDriverCreated, audit.F("by", actor.Username), audit.F("new_user", username))
	return nu, nil
}

func (s *Service) createAccount(ctx context.Context, na model.NewAccount, insert func(model.NewAccount) (model.Account, error)) (NewUser, error) {
	exists, err := s.accounts.UsernameExists(ctx, na.Username)
	if err != nil {
		return NewUser{}, err
	}
	if exists {
		return NewUser{}, fmt.Errorf("%w: username %q is already taken", ErrConflict, na.Username)
	}

	temp, err := auth.GenerateTempPassword(tempPasswordLength)
	if err != nil {
		return NewUser{}, err
	}
	if na.PasswordHash, err = s.hasher.Hash(temp); err != nil {
		return NewUser{}, err
	}

	acct, err := insert(na)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return NewUser{}, fmt.Errorf("%w: username or email already exists", ErrConflict)
		}
		return NewUser{}, fmt.Errorf("create account: %w", err)
	}
	return NewUser{Account: acct, TempPassword: temp}, nil
}

// ListDrivers returns drivers, optionally filtered by exact case-insensitive username
// and by status "active" or "inactive"
func (s *Service) ListDrivers(ctx context.Context, search, status string) ([]model.Account, error) {
	f := repo.AccountFilter{Role: model.RoleDriver, Username: strings.TrimSpace(search)}
	switch strings.TrimSpace(status) {
	case "":
	case "active":
		active := true
		f.Active = &active
	case "inactive":
		active := false
		f.Active = &active
	default:
		return nil, fmt.Errorf("%w: status must be active or inactive", ErrInvalidInput)
	}
	return s.accounts.List(ctx, f)
}

// PointsAction is award or remove
type PointsAction string

const (
	PointsAward  PointsAction = "award"
	PointsRemove PointsAction = "remove"
)

// AdjustPoints awards or removes points from a driver and returns the new balance
func (s *Service) AdjustPoints(ctx context.Context, actor model.Account, driverID uuid.UUID, action PointsAction, points int, reason string) (int, error) {
	if (action != PointsAward && action != PointsRemove) || points <= 0 {
		return 0, fmt.Errorf("%w: provide an action (award/remove) and a positive point amount", ErrInvalidInput)
	}
	if points > MaxPointsAdjustment {
		return 0, fmt.Errorf("%w: at most %d points can be adjusted at once", ErrInvalidInput, MaxPointsAdjustment)
	}
	driver, err := s.accounts.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("load driver: %w", err)
	}
	if driver.Role != model.RoleDriver {
		return 0, fmt.Errorf("%w: account is not a driver", ErrNotFound)
	}

	delta := points
	var event, message string
	if action == PointsAward {
		event = fmt.Sprintf("Sponsor %s awarded %d points to %s.", actor.Username, points, driver.Username)
		message = fmt.Sprintf("You have been awarded %d points by %s.", points, actor.Username)
	} else {
		delta = -points
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = defaultRemoveReason
		}
		event = fmt.Sprintf("Sponsor %s removed %d points from %s. Reason: %s", actor.Username, points, driver.Username, reason)
		message = fmt.Sprintf("%d points were removed from your account by %s. Reason: %s", points, actor.Username, reason)
	}

	balance, err := s.accounts.AdjustPoints(ctx, driver.ID, delta)
	if errors.Is(err, repo.ErrOutOfRange) {
		return 0, fmt.Errorf("%w: the driver's balance cannot go that far", ErrInvalidInput)
	}
	if err != nil {
		return 0, fmt.Errorf("adjust points: %w", err)
	}
	s.audit.Record(ctx, audit.KindDriverPoints, audit.F("event", event), audit.F("balance", balance))

	if driver.PointNotifications {
		sender := actor.ID
		if _, err := s.notifications.Create(ctx, driver.ID, &sender, message); err != nil {
			// the points change stands even if the notification is lost
			s.logger.Error().Err(err).Str("driver", driver.Username).Msg("failed to create points notification")
		}
	}
	return balance, nil
}

// Apply files a pending application from a driver to the named organization
func (s *Service) Apply(ctx context.Context, driver model.Account, orgName string) (model.DriverApplication, error) {
	if driver.Role != model.RoleDriver {
		return model.DriverApplication{}, fmt.Errorf("%w: only drivers can apply", ErrInvalidInput)
	}
	org, err := s.sponsors.GetByOrgName(ctx, strings.TrimSpace(orgName))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.DriverApplication{}, fmt.Errorf("%w: organization %q", ErrNotFound, orgName)
		}
		return model.DriverApplication{}, fmt.Errorf("load organization: %w", err)
	}

	existing, err := s.applications.ListByDriver(ctx, driver.ID)
	if err != nil {
		return model.DriverApplication{}, err
	}
	for _, app := range existing {
		if app.SponsorID == org.AccountID && app.Status != model.ApplicationRejected {
			return model.DriverApplication{}, fmt.Errorf("%w: application to %s is %s", ErrConflict, org.OrgName, strings.ToLower(string(app.Status)))
		}
	}

	app, err := s.applications.Create(ctx, driver.ID, org.AccountID)
	if err != nil {
		return model.DriverApplication{}, err
	}
	app.DriverUsername = driver.Username
	s.audit.Record(ctx, audit.KindApplication, audit.F("driver", driver.Username), audit.F("org", org.OrgName), audit.F("status", app.Status))
	return app, nil
}

func (s *Service) organization(ctx context.Context, sponsor model.Account) (model.Sponsor, error) {
	org, err := s.sponsors.GetByAccountID(ctx, sponsor.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Sponsor{}, ErrNoOrganization
		}
		return model.Sponsor{}, fmt.Errorf("load organization: %w", err)
	}
	return org, nil
}

// Organization returns the sponsor organization owned by the account
func (s *Service) Organization(ctx context.Context, sponsor model.Account) (model.Sponsor, error) {
	return s.organization(ctx, sponsor)
}

// PendingApplications lists pending applications to the sponsor's organization
func (s *Service) PendingApplications(ctx context.Context, sponsor model.Account) ([]model.DriverApplication, error) {
	org, err := s.organization(ctx, sponsor)
	if err != nil {
		return nil, err
	}
	return s.applications.ListBySponsor(ctx, org.AccountID, model.ApplicationPending)
}

// DecideApplication accepts or rejects a pending application to the sponsor's organization
func (s *Service) DecideApplication(ctx context.Context, sponsor model.Account, appID uuid.UUID, decision string) error {
	var status model.ApplicationStatus
	switch decision {
	case "accept":
		status = model.ApplicationAccepted
	case "reject":
		status = model.ApplicationRejected
	default:
		return fmt.Errorf("%w: decision must be accept or reject", ErrInvalidInput)
	}
	org, err := s.organization(ctx, sponsor)
	if err != nil {
		return err
	}
	if err := s.applications.Decide(ctx, appID, org.AccountID, status, s.now()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: no pending application %s", ErrNotFound, appID)
		}
		return err
	}
	s.audit.Record(ctx, audit.KindApplication, audit.F("id", appID), audit.F("org", org.OrgName), audit.F("status", status), audit.F("by", sponsor.Username))
	return nil
}

// AcceptedDrivers lists drivers accepted into the sponsor's organization
func (s *Service) AcceptedDrivers(ctx context.Context, sponsor model.Account) ([]model.Account, error) {
	org, err := s.organization(ctx, sponsor)
	if err != nil {
		return nil, err
	}
	return s.applications.AcceptedDrivers(ctx, org.AccountID)
}

// Settings returns the store settings of the sponsor's organization
func (s *Service) Settings(ctx context.Context, sponsor model.Account) (model.StoreSettings, error) {
	org, err := s.organization(ctx, sponsor)
	if err != nil {
		return model.StoreSettings{}, err
	}
	return s.sponsors.GetSettings(ctx, org.AccountID)
}

// UpdateSettings saves the eBay category and point ratio of the sponsor's organization
func (s *Service) UpdateSettings(ctx context.Context, sponsor model.Account, ebayCategoryID string, pointRatio int) (model.StoreSettings, error) {
	if pointRatio <= 0 {
		return model.StoreSettings{}, fmt.Errorf("%w: point ratio must be positive", ErrInvalidInput)
	}
	org, err := s.organization(ctx, sponsor)
	if err != nil {
		return model.StoreSettings{}, err
	}
	return s.sponsors.UpsertSettings(ctx, model.StoreSettings{
		SponsorID:      org.AccountID,
		EbayCategoryID: strings.TrimSpace(ebayCategoryID),
		PointRatio:     pointRatio,
	})
}

// UpdateContact changes the email and phone of an account. Both must be unique; the
// phone is optional but must be at least ten digits.
func (s *Service) UpdateContact(ctx context.Context, acct model.Account, email, phone string) error {
	email, phone = strings.TrimSpace(email), strings.TrimSpace(phone)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: please enter a valid email address", ErrInvalidInput)
	}
	if phone != "" {
		if err := s.validate.Var(phone, "number,min=10"); err != nil {
			return fmt.Errorf("%w: please enter a valid phone number", ErrInvalidInput)
		}
	}

	if other, err := s.accounts.GetByEmail(ctx, email); err == nil && other.ID != acct.ID {
		return fmt.Errorf("%w: email already in use", ErrConflict)
	} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if phone != "" {
		if other, err := s.accounts.GetByPhone(ctx, phone); err == nil && other.ID != acct.ID {
			return fmt.Errorf("%w: phone number already in use", ErrConflict)
		} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}

	if err := s.accounts.UpdateContact(ctx, acct.ID, email, phone); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return fmt.Errorf("%w: email or phone already in use", ErrConflict)
		}
		return err
	}
	s.audit.Record(ctx, audit.KindContactUpdated, audit.F("username", acct.Username))
	return nil
}
