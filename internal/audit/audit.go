package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/repo"
)

// Event kinds written to the audit log
const (
	KindLogin            = "LOGIN"
	KindLogout           = "LOGOUT"
	KindTOTPEnabled      = "TOTP_ENABLED"
	KindTOTPDisabled     = "TOTP_DISABLED"
	KindEmail2FAEnabled  = "EMAIL_2FA_ENABLED"
	KindEmail2FADisabled = "EMAIL_2FA_DISABLED"
	KindResetRequest     = "PASSWORD_RESET_REQUEST"
	KindResetExpired     = "PASSWORD_RESET_EXPIRED"
	KindResetSuccess     = "PASSWORD_RESET_SUCCESS"
	KindPasswordChanged  = "PASSWORD_CHANGED"
	KindDriverPoints     = "DRIVER_POINTS"
	KindSponsorUser      = "SPONSOR_CREATE_USER"
	KindDriverCreated    = "DRIVER_CREATE"
	KindApplication      = "DRIVER_APPLICATION"
	KindBulkLoad         = "BULK_LOAD"
	KindAccountLocked    = "ACCOUNT_LOCKED"
	KindAccountUnlocked  = "ACCOUNT_UNLOCKED"
	KindContactUpdated   = "CONTACT_UPDATED"
)

// Sink receives audit events. Implementations must not fail the caller.
type Sink interface {
	Record(ctx context.Context, kind string, fields ...Field)
}

// Field is one key=value pair of an event's details
type Field struct {
	Key   string
	Value string
}

// F builds a Field
func F(key string, value any) Field {
	return Field{Key: key, Value: fmt.Sprint(value)}
}

// Recorder writes events through an AuditRepo. Storage errors are logged and dropped.
type Recorder struct {
	repo   repo.AuditRepo
	logger *zerolog.Logger
}

// NewRecorder creates a Recorder
func NewRecorder(auditRepo repo.AuditRepo, logger *zerolog.Logger) *Recorder {
	return &Recorder{repo: auditRepo, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, kind string, fields ...Field) {
	details := FormatDetails(fields...)
	if err := r.repo.Append(ctx, kind, details); err != nil {
		r.logger.Error().Err(err).Str("kind", kind).Str("details", details).Msg("failed to append audit event")
	}
}

// FormatDetails renders fields as space separated key=value pairs, quoting values with spaces
func FormatDetails(fields ...Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := f.Value
		if v == "" || strings.ContainsAny(v, " \t\"=") {
			v = fmt.Sprintf("%q", v)
		}
		parts = append(parts, f.Key+"="+v)
	}
	return strings.Join(parts, " ")
}
