// Package memrepo provides in-memory implementations of the repo interfaces with the
// same conditional-update semantics as the Postgres repositories. Used by unit tests.
package memrepo

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/repo"
)

// Store holds all tables. The typed views implement the repo interfaces.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	accounts      map[uuid.UUID]*model.Account
	codes         map[uuid.UUID]*model.OneTimeCode
	audit         []model.AuditEvent
	sponsors      map[uuid.UUID]*model.Sponsor
	drivers       map[uuid.UUID]*model.Driver
	settings      map[uuid.UUID]model.StoreSettings
	applications  map[uuid.UUID]*model.DriverApplication
	notifications []model.Notification

	Accounts      *Accounts
	Codes         *Codes
	Audit         *Audit
	Sponsors      *Sponsors
	Applications  *Applications
	Notifications *Notifications
}

// New creates an empty store using time.Now as its clock
func New() *Store {
	s := &Store{
		now:          time.Now,
		accounts:     make(map[uuid.UUID]*model.Account),
		codes:        make(map[uuid.UUID]*model.OneTimeCode),
		sponsors:     make(map[uuid.UUID]*model.Sponsor),
		drivers:      make(map[uuid.UUID]*model.Driver),
		settings:     make(map[uuid.UUID]model.StoreSettings),
		applications: make(map[uuid.UUID]*model.DriverApplication),
	}
	s.Accounts = &Accounts{s}
	s.Codes = &Codes{s}
	s.Audit = &Audit{s}
	s.Sponsors = &Sponsors{s}
	s.Applications = &Applications{s}
	s.Notifications = &Notifications{s}
	return s
}

// SetClock replaces the clock used for timestamps the database would set with now()
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Events returns a copy of the audit log in insertion order
func (s *Store) Events() []model.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEvent(nil), s.audit...)
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, repo.ErrNotFound)
}

// Accounts implements repo.AccountRepo
type Accounts struct{ s *Store }

var _ repo.AccountRepo = (*Accounts)(nil)

func (r *Accounts) insertLocked(na model.NewAccount) (model.Account, error) {
	s := r.s
	for _, a := range s.accounts {
		if a.Username == na.Username {
			return model.Account{}, fmt.Errorf("insert account %q: %w", na.Username, repo.ErrDuplicate)
		}
		if na.Email != "" && strings.EqualFold(a.Email, na.Email) {
			return model.Account{}, fmt.Errorf("insert account email: %w", repo.ErrDuplicate)
		}
		if na.Phone != "" && a.Phone == na.Phone {
			return model.Account{}, fmt.Errorf("insert account phone: %w", repo.ErrDuplicate)
		}
	}
	a := &model.Account{
		ID:                 uuid.New(),
		Username:           na.Username,
		Email:              na.Email,
		Phone:              na.Phone,
		FirstName:          na.FirstName,
		LastName:           na.LastName,
		PasswordHash:       na.PasswordHash,
		Role:               na.Role,
		Active:             true,
		PointNotifications: true,
		CreatedAt:          s.now(),
	}
	s.accounts[a.ID] = a
	return *a, nil
}

func (r *Accounts) Create(_ context.Context, na model.NewAccount) (model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(na)
}

func (r *Accounts) CreateSponsor(_ context.Context, na model.NewAccount, orgName string) (model.Account, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range s.sponsors {
		if sp.OrgName == orgName {
			return model.Account{}, fmt.Errorf("insert sponsor %q: %w", orgName, repo.ErrDuplicate)
		}
	}
	na.Role = model.RoleSponsor
	a, err := r.insertLocked(na)
	if err != nil {
		return model.Account{}, err
	}
	s.sponsors[a.ID] = &model.Sponsor{AccountID: a.ID, OrgName: orgName, Status: "Pending", CreatedAt: s.now()}
	return a, nil
}

func (r *Accounts) CreateDriver(_ context.Context, na model.NewAccount, licenseNumber string, applyTo *uuid.UUID) (model.Account, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if applyTo != nil {
		if _, ok := s.sponsors[*applyTo]; !ok {
			return model.Account{}, fmt.Errorf("insert application: sponsor %s missing", applyTo)
		}
	}
	na.Role = model.RoleDriver
	a, err := r.insertLocked(na)
	if err != nil {
		return model.Account{}, err
	}
	s.drivers[a.ID] = &model.Driver{AccountID: a.ID, LicenseNumber: licenseNumber}
	if applyTo != nil {
		app := &model.DriverApplication{
			ID:        uuid.New(),
			DriverID:  a.ID,
			SponsorID: *applyTo,
			Status:    model.ApplicationPending,
			CreatedAt: s.now(),
		}
		s.applications[app.ID] = app
	}
	return a, nil
}

func (r *Accounts) find(pred func(*model.Account) bool) (model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if pred(a) {
			return *a, nil
		}
	}
	return model.Account{}, notFound("account")
}

func (r *Accounts) GetByID(_ context.Context, id uuid.UUID) (model.Account, error) {
	return r.find(func(a *model.Account) bool { return a.ID == id })
}

func (r *Accounts) GetByUsername(_ context.Context, username string) (model.Account, error) {
	return r.find(func(a *model.Account) bool { return a.Username == username })
}

func (r *Accounts) GetByEmail(_ context.Context, email string) (model.Account, error) {
	return r.find(func(a *model.Account) bool { return a.Email != "" && strings.EqualFold(a.Email, email) })
}

func (r *Accounts) GetByPhone(_ context.Context, phone string) (model.Account, error) {
	return r.find(func(a *model.Account) bool { return a.Phone != "" && a.Phone == phone })
}

func (r *Accounts) GetByResetTokenHash(_ context.Context, tokenHash string) (model.Account, error) {
	if tokenHash == "" {
		return model.Account{}, notFound("account")
	}
	return r.find(func(a *model.Account) bool { return a.ResetTokenHash == tokenHash })
}

func (r *Accounts) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	return err == nil, nil
}

func (r *Accounts) List(_ context.Context, f repo.AccountFilter) ([]model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Account
	for _, a := range r.s.accounts {
		if f.Role != "" && a.Role != f.Role {
			continue
		}
		if f.Username != "" && !strings.EqualFold(a.Username, f.Username) {
			continue
		}
		if f.Active != nil && a.Active != *f.Active {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r *Accounts) CountByRole(_ context.Context) (map[model.Role]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[model.Role]int)
	for _, a := range r.s.accounts {
		counts[a.Role]++
	}
	return counts, nil
}

func (r *Accounts) update(id uuid.UUID, fn func(*model.Account)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return notFound("account")
	}
	fn(a)
	return nil
}

func (r *Accounts) RecordFailedAttempt(_ context.Context, id uuid.UUID, threshold int) (model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return model.Account{}, notFound("account")
	}
	a.FailedAttempts++
	if a.FailedAttempts >= threshold {
		a.Locked = true
		a.LockReason = model.LockSelf
		a.LockedUntil = nil
	}
	return *a, nil
}

func (r *Accounts) ClearFailedAttempts(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(a *model.Account) { a.FailedAttempts = 0 })
}

func (r *Accounts) Lock(_ context.Context, id uuid.UUID, reason model.LockReason, until *time.Time) error {
	return r.update(id, func(a *model.Account) {
		a.Locked = true
		a.LockReason = reason
		a.LockedUntil = until
	})
}

func (r *Accounts) Unlock(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(a *model.Account) {
		a.Locked = false
		a.LockReason = model.LockNone
		a.LockedUntil = nil
		a.FailedAttempts = 0
	})
}

func (r *Accounts) SetTOTPSecret(_ context.Context, id uuid.UUID, secret string) error {
	return r.update(id, func(a *model.Account) {
		a.TOTPSecret = secret
		a.TOTPEnabled = false
	})
}

func (r *Accounts) SetTOTPEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	return r.update(id, func(a *model.Account) { a.TOTPEnabled = enabled })
}

func (r *Accounts) ClearTOTP(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(a *model.Account) {
		a.TOTPSecret = ""
		a.TOTPEnabled = false
	})
}

func (r *Accounts) SetEmail2FA(_ context.Context, id uuid.UUID, enabled bool) error {
	return r.update(id, func(a *model.Account) { a.Email2FAEnabled = enabled })
}

func (r *Accounts) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(a *model.Account) { a.EmailVerified = true })
}

func (r *Accounts) SetResetToken(_ context.Context, id uuid.UUID, tokenHash string, issuedAt time.Time) error {
	return r.update(id, func(a *model.Account) {
		a.ResetTokenHash = tokenHash
		a.ResetTokenIssuedAt = &issuedAt
	})
}

func (r *Accounts) ClearResetToken(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(a *model.Account) {
		a.ResetTokenHash = ""
		a.ResetTokenIssuedAt = nil
	})
}

func (r *Accounts) CompletePasswordReset(_ context.Context, id uuid.UUID, passwordHash string) error {
	return r.update(id, func(a *model.Account) {
		a.PasswordHash = passwordHash
		a.ResetTokenHash = ""
		a.ResetTokenIssuedAt = nil
		a.FailedAttempts = 0
		a.Locked = false
		a.LockReason = model.LockNone
		a.LockedUntil = nil
	})
}

func (r *Accounts) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return r.update(id, func(a *model.Account) { a.PasswordHash = passwordHash })
}

func (r *Accounts) UpdateContact(_ context.Context, id uuid.UUID, email, phone string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return notFound("account")
	}
	for _, other := range r.s.accounts {
		if other.ID == id {
			continue
		}
		if email != "" && strings.EqualFold(other.Email, email) {
			return fmt.Errorf("update contact: %w", repo.ErrDuplicate)
		}
		if phone != "" && other.Phone == phone {
			return fmt.Errorf("update contact: %w", repo.ErrDuplicate)
		}
	}
	if !strings.EqualFold(a.Email, email) {
		a.EmailVerified = false
		a.Email2FAEnabled = false
	}
	a.Email = email
	a.Phone = phone
	return nil
}

func (r *Accounts) AdjustPoints(_ context.Context, id uuid.UUID, delta int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return 0, notFound("account")
	}
	// points is an INTEGER column
	next := int64(a.Points) + int64(delta)
	if next > math.MaxInt32 || next < math.MinInt32 {
		return 0, fmt.Errorf("points balance: %w", repo.ErrOutOfRange)
	}
	a.Points = int(next)
	return a.Points, nil
}

// Codes implements repo.CodeRepo
type Codes struct{ s *Store }

var _ repo.CodeRepo = (*Codes)(nil)

func (r *Codes) Replace(_ context.Context, accountID uuid.UUID, purpose model.CodePurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, c := range s.codes {
		if c.AccountID == accountID && c.Purpose == purpose && c.ConsumedAt == nil {
			consumed := now
			c.ConsumedAt = &consumed
		}
	}
	hash, err := hex.DecodeString(codeHashHex)
	if err != nil {
		return uuid.Nil, err
	}
	c := &model.OneTimeCode{
		ID:        uuid.New(),
		AccountID: accountID,
		Purpose:   purpose,
		CodeHash:  hash,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	s.codes[c.ID] = c
	return c.ID, nil
}

func (r *Codes) GetLive(_ context.Context, accountID uuid.UUID, purpose model.CodePurpose) (model.OneTimeCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.OneTimeCode
	for _, c := range r.s.codes {
		if c.AccountID != accountID || c.Purpose != purpose || c.ConsumedAt != nil {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return model.OneTimeCode{}, notFound("no live code")
	}
	return *latest, nil
}

func (r *Codes) IncrementAttempt(_ context.Context, codeID uuid.UUID, maxAttempts int, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[codeID]
	if !ok || c.Attempts >= maxAttempts || c.ConsumedAt != nil || !c.ExpiresAt.After(now) {
		return 0, notFound("code not usable")
	}
	c.Attempts++
	c.LastAttemptAt = &now
	return c.Attempts, nil
}

func (r *Codes) MarkConsumed(_ context.Context, codeID uuid.UUID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[codeID]
	if !ok || c.ConsumedAt != nil {
		return notFound("code already consumed")
	}
	c.ConsumedAt = &now
	return nil
}

// Get returns a code by ID, for assertions in tests
func (r *Codes) Get(id uuid.UUID) (model.OneTimeCode, bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[id]
	if !ok {
		return model.OneTimeCode{}, false
	}
	return *c, true
}

// Audit implements repo.AuditRepo
type Audit struct{ s *Store }

var _ repo.AuditRepo = (*Audit)(nil)

func (r *Audit) Append(_ context.Context, kind, details string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, model.AuditEvent{
		ID:        int64(len(r.s.audit) + 1),
		Kind:      kind,
		Details:   details,
		CreatedAt: r.s.now(),
	})
	return nil
}

func (r *Audit) ListRecent(_ context.Context, limit int) ([]model.AuditEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.AuditEvent
	for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.s.audit[i])
	}
	return out, nil
}

// Sponsors implements repo.SponsorRepo
type Sponsors struct{ s *Store }

var _ repo.SponsorRepo = (*Sponsors)(nil)

func (r *Sponsors) GetByAccountID(_ context.Context, accountID uuid.UUID) (model.Sponsor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sp, ok := r.s.sponsors[accountID]
	if !ok {
		return model.Sponsor{}, notFound("sponsor")
	}
	return *sp, nil
}

func (r *Sponsors) GetByOrgName(_ context.Context, orgName string) (model.Sponsor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sp := range r.s.sponsors {
		if sp.OrgName == orgName {
			return *sp, nil
		}
	}
	return model.Sponsor{}, notFound("sponsor")
}

func (r *Sponsors) GetSettings(_ context.Context, sponsorID uuid.UUID) (model.StoreSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st, ok := r.s.settings[sponsorID]; ok {
		return st, nil
	}
	return model.StoreSettings{SponsorID: sponsorID, PointRatio: 1}, nil
}

func (r *Sponsors) UpsertSettings(_ context.Context, st model.StoreSettings) (model.StoreSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sponsors[st.SponsorID]; !ok {
		return model.StoreSettings{}, fmt.Errorf("upsert settings: sponsor %s missing", st.SponsorID)
	}
	st.UpdatedAt = r.s.now()
	r.s.settings[st.SponsorID] = st
	return st, nil
}

// Applications implements repo.ApplicationRepo
type Applications struct{ s *Store }

var _ repo.ApplicationRepo = (*Applications)(nil)

func (r *Applications) withUsername(app model.DriverApplication) model.DriverApplication {
	if a, ok := r.s.accounts[app.DriverID]; ok {
		app.DriverUsername = a.Username
	}
	return app
}

func (r *Applications) Create(_ context.Context, driverID, sponsorID uuid.UUID) (model.DriverApplication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sponsors[sponsorID]; !ok {
		return model.DriverApplication{}, fmt.Errorf("insert application: sponsor %s missing", sponsorID)
	}
	app := &model.DriverApplication{
		ID:        uuid.New(),
		DriverID:  driverID,
		SponsorID: sponsorID,
		Status:    model.ApplicationPending,
		CreatedAt: r.s.now(),
	}
	r.s.applications[app.ID] = app
	return r.withUsername(*app), nil
}

func (r *Applications) list(pred func(*model.DriverApplication) bool) []model.DriverApplication {
	var out []model.DriverApplication
	for _, app := range r.s.applications {
		if pred(app) {
			out = append(out, r.withUsername(*app))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Applications) ListBySponsor(_ context.Context, sponsorID uuid.UUID, status model.ApplicationStatus) ([]model.DriverApplication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(func(app *model.DriverApplication) bool {
		return app.SponsorID == sponsorID && app.Status == status
	}), nil
}

func (r *Applications) ListByDriver(_ context.Context, driverID uuid.UUID) ([]model.DriverApplication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(func(app *model.DriverApplication) bool { return app.DriverID == driverID }), nil
}

func (r *Applications) Decide(_ context.Context, id, sponsorID uuid.UUID, status model.ApplicationStatus, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.applications[id]
	if !ok || app.SponsorID != sponsorID || app.Status != model.ApplicationPending {
		return notFound("pending application")
	}
	app.Status = status
	app.DecidedAt = &now
	return nil
}

func (r *Applications) AcceptedDrivers(_ context.Context, sponsorID uuid.UUID) ([]model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []model.Account
	for _, app := range r.s.applications {
		if app.SponsorID != sponsorID || app.Status != model.ApplicationAccepted || seen[app.DriverID] {
			continue
		}
		seen[app.DriverID] = true
		if a, ok := r.s.accounts[app.DriverID]; ok {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Notifications implements repo.NotificationRepo
type Notifications struct{ s *Store }

var _ repo.NotificationRepo = (*Notifications)(nil)

func (r *Notifications) Create(_ context.Context, recipientID uuid.UUID, senderID *uuid.UUID, message string) (model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := model.Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		SenderID:    senderID,
		Message:     message,
		CreatedAt:   r.s.now(),
	}
	r.s.notifications = append(r.s.notifications, n)
	return n, nil
}

func (r *Notifications) ListForRecipient(_ context.Context, recipientID uuid.UUID, limit int) ([]model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Notification
	for i := len(r.s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.notifications[i].RecipientID == recipientID {
			out = append(out, r.s.notifications[i])
		}
	}
	return out, nil
}
