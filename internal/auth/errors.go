package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/tripletsrewards/server/internal/model"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrLocked             = errors.New("account locked")
	ErrExpired            = errors.New("expired")
	ErrRateLimited        = errors.New("attempt limit reached")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrPasswordPolicy     = errors.New("password rejected")
	ErrDeliveryFailed     = errors.New("message delivery failed")
)

// LockedError carries why an account is locked. It matches ErrLocked with errors.Is.
type LockedError struct {
	Reason model.LockReason
	Until  *time.Time
}

func (e *LockedError) Error() string {
	if e.Until != nil {
		return fmt.Sprintf("account locked (%s) until %s", e.Reason, e.Until.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("account locked (%s)", e.Reason)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// Message is the user-facing text for the lock
func (e *LockedError) Message() string {
	return lockMessage(e.Reason, e.Until)
}

func lockMessage(reason model.LockReason, until *time.Time) string {
	if reason != model.LockAdmin {
		return "Account locked. Please contact your administrator."
	}
	when := "later"
	if until != nil {
		when = until.UTC().Format(time.DateTime)
	}
	return fmt.Sprintf("Your account has been locked by an administrator until %s.", when)
}
