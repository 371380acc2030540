package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the account type. It decides the landing area and which routes an account may use.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleSponsor       Role = "sponsor"
	RoleDriver        Role = "driver"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleSponsor, RoleDriver:
		return true
	}
	return false
}

// LockReason tells who locked an account
type LockReason string

const (
	LockNone  LockReason = ""
	LockSelf  LockReason = "self"
	LockAdmin LockReason = "admin"
)

// Account represents a user of any role. Every field is always present; flags default to inactive.
type Account struct {
	ID                 uuid.UUID
	Username           string
	Email              string
	Phone              string
	FirstName          string
	LastName           string
	PasswordHash       string
	Role               Role
	Active             bool
	Points             int
	PointNotifications bool
	FailedAttempts     int
	Locked             bool
	LockReason         LockReason
	LockedUntil        *time.Time
	TOTPSecret         string
	TOTPEnabled        bool
	EmailVerified      bool
	Email2FAEnabled    bool
	ResetTokenHash     string
	ResetTokenIssuedAt *time.Time
	CreatedAt          time.Time
}

// IsLocked reports whether the account is locked at now. An administrator lock
// stops applying once LockedUntil has passed; a self-lock holds until cleared.
func (a Account) IsLocked(now time.Time) bool {
	if !a.Locked {
		return false
	}
	if a.LockReason == LockAdmin && a.LockedUntil != nil && !now.Before(*a.LockedUntil) {
		return false
	}
	return true
}

// NewAccount holds the fields needed to create an account
type NewAccount struct {
	Username     string
	Email        string
	Phone        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
}

// CodePurpose tags what a one-time code proves
type CodePurpose string

const (
	PurposeLogin CodePurpose = "login"
	PurposeSetup CodePurpose = "setup"
)

// OneTimeCode represents an emailed second-factor code. Only the hash is stored.
type OneTimeCode struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Purpose       CodePurpose
	CodeHash      []byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Attempts      int
	LastAttemptAt *time.Time
	ConsumedAt    *time.Time
}

// AuditEvent is one entry of the audit log
type AuditEvent struct {
	ID        int64
	Kind      string
	Details   string
	CreatedAt time.Time
}

// Sponsor represents a sponsor organization owned by a sponsor account
type Sponsor struct {
	AccountID uuid.UUID
	OrgName   string
	Status    string
	CreatedAt time.Time
}

// Driver holds driver-specific data for a driver account
type Driver struct {
	AccountID     uuid.UUID
	LicenseNumber string
}

// ApplicationStatus is the state of a driver application
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "Pending"
	ApplicationAccepted ApplicationStatus = "Accepted"
	ApplicationRejected ApplicationStatus = "Rejected"
)

// DriverApplication represents a driver applying to a sponsor organization
type DriverApplication struct {
	ID             uuid.UUID
	DriverID       uuid.UUID
	DriverUsername string
	SponsorID      uuid.UUID
	Status         ApplicationStatus
	CreatedAt      time.Time
	DecidedAt      *time.Time
}

// Notification is an in-app message to an account
type Notification struct {
	ID          uuid.UUID
	RecipientID uuid.UUID
	SenderID    *uuid.UUID
	Message     string
	CreatedAt   time.Time
}

// StoreSettings holds the reward catalog settings of a sponsor
type StoreSettings struct {
	SponsorID      uuid.UUID
	EbayCategoryID string
	PointRatio     int
	UpdatedAt      time.Time
}
