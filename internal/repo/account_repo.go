package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tripletsrewards/server/internal/model"
)

// AccountFilter narrows List results. Zero values match everything.
type AccountFilter struct {
	Role     model.Role
	Username string // case-insensitive exact match
	Active   *bool
}

// AccountRepo defines the interface for account repository operations
type AccountRepo interface {
	Create(ctx context.Context, na model.NewAccount) (model.Account, error)
	CreateSponsor(ctx context.Context, na model.NewAccount, orgName string) (model.Account, error)
	CreateDriver(ctx context.Context, na model.NewAccount, licenseNumber string, applyTo *uuid.UUID) (model.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Account, error)
	GetByUsername(ctx context.Context, username string) (model.Account, error)
	GetByEmail(ctx context.Context, email string) (model.Account, error)
	GetByPhone(ctx context.Context, phone string) (model.Account, error)
	GetByResetTokenHash(ctx context.Context, tokenHash string) (model.Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	List(ctx context.Context, f AccountFilter) ([]model.Account, error)
	CountByRole(ctx context.Context) (map[model.Role]int, error)

	RecordFailedAttempt(ctx context.Context, id uuid.UUID, threshold int) (model.Account, error)
	ClearFailedAttempts(ctx context.Context, id uuid.UUID) error
	Lock(ctx context.Context, id uuid.UUID, reason model.LockReason, until *time.Time) error
	Unlock(ctx context.Context, id uuid.UUID) error

	SetTOTPSecret(ctx context.Context, id uuid.UUID, secret string) error
	SetTOTPEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	ClearTOTP(ctx context.Context, id uuid.UUID) error
	SetEmail2FA(ctx context.Context, id uuid.UUID, enabled bool) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error

	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, issuedAt time.Time) error
	ClearResetToken(ctx context.Context, id uuid.UUID) error
	CompletePasswordReset(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateContact(ctx context.Context, id uuid.UUID, email, phone string) error
	AdjustPoints(ctx context.Context, id uuid.UUID, delta int) (int, error)
}

type accountRepo struct {
	db *sql.DB
}

// NewAccountRepo creates a new AccountRepo instance
func NewAccountRepo(db *sql.DB) AccountRepo {
	return &accountRepo{db: db}
}

const accountColumns = `
	id, username, email, phone, first_name, last_name, password_hash, role,
	active, points, point_notifications, failed_attempts, locked, lock_reason, locked_until,
	totp_secret, totp_enabled, email_verified, email_2fa_enabled,
	reset_token_hash, reset_token_issued_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.Account, error) {
	var a model.Account
	var role, lockReason string
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.Phone,
		&a.FirstName,
		&a.LastName,
		&a.PasswordHash,
		&role,
		&a.Active,
		&a.Points,
		&a.PointNotifications,
		&a.FailedAttempts,
		&a.Locked,
		&lockReason,
		&a.LockedUntil,
		&a.TOTPSecret,
		&a.TOTPEnabled,
		&a.EmailVerified,
		&a.Email2FAEnabled,
		&a.ResetTokenHash,
		&a.ResetTokenIssuedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return model.Account{}, err
	}
	a.Role = model.Role(role)
	a.LockReason = model.LockReason(lockReason)
	return a, nil
}

func (r *accountRepo) getOne(ctx context.Context, where string, arg any) (model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, fmt.Errorf("account: %w", ErrNotFound)
		}
		return model.Account{}, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

const insertAccount = `
	INSERT INTO accounts (username, email, phone, first_name, last_name, password_hash, role)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ` + accountColumns

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertAccountRow(ctx context.Context, q queryRower, na model.NewAccount) (model.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, insertAccount,
		na.Username, na.Email, na.Phone, na.FirstName, na.LastName, na.PasswordHash, string(na.Role),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Account{}, fmt.Errorf("insert account %q: %w", na.Username, ErrDuplicate)
		}
		return model.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

// Create inserts a new account
func (r *accountRepo) Create(ctx context.Context, na model.NewAccount) (model.Account, error) {
	return insertAccountRow(ctx, r.db, na)
}

// CreateSponsor inserts a sponsor account and its organization in one transaction
func (r *accountRepo) CreateSponsor(ctx context.Context, na model.NewAccount, orgName string) (model.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	na.Role = model.RoleSponsor
	a, err := insertAccountRow(ctx, tx, na)
	if err != nil {
		return model.Account{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sponsors (account_id, org_name) VALUES ($1, $2)
	`, a.ID, orgName)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Account{}, fmt.Errorf("insert sponsor %q: %w", orgName, ErrDuplicate)
		}
		return model.Account{}, fmt.Errorf("insert sponsor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Account{}, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// CreateDriver inserts a driver account, its driver record and, when applyTo is set,
// a pending application to that sponsor, all in one transaction.
func (r *accountRepo) CreateDriver(ctx context.Context, na model.NewAccount, licenseNumber string, applyTo *uuid.UUID) (model.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	na.Role = model.RoleDriver
	a, err := insertAccountRow(ctx, tx, na)
	if err != nil {
		return model.Account{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO drivers (account_id, license_number) VALUES ($1, $2)
	`, a.ID, licenseNumber); err != nil {
		return model.Account{}, fmt.Errorf("insert driver: %w", err)
	}

	if applyTo != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO driver_applications (driver_id, sponsor_id) VALUES ($1, $2)
		`, a.ID, *applyTo); err != nil {
			return model.Account{}, fmt.Errorf("insert application: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Account{}, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// GetByID retrieves an account by ID
func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetByUsername retrieves an account by exact, case-sensitive username
func (r *accountRepo) GetByUsername(ctx context.Context, username string) (model.Account, error) {
	return r.getOne(ctx, "username = $1", username)
}

// GetByEmail retrieves an account by email, ignoring case
func (r *accountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	return r.getOne(ctx, "email <> '' AND lower(email) = lower($1)", email)
}

// GetByPhone retrieves an account by phone number
func (r *accountRepo) GetByPhone(ctx context.Context, phone string) (model.Account, error) {
	return r.getOne(ctx, "phone <> '' AND phone = $1", phone)
}

// GetByResetTokenHash retrieves the account holding the given reset token hash
func (r *accountRepo) GetByResetTokenHash(ctx context.Context, tokenHash string) (model.Account, error) {
	if tokenHash == "" {
		return model.Account{}, fmt.Errorf("account: %w", ErrNotFound)
	}
	return r.getOne(ctx, "reset_token_hash = $1", tokenHash)
}

// UsernameExists reports whether the username is taken
func (r *accountRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

// List returns accounts matching the filter ordered by username
func (r *accountRepo) List(ctx context.Context, f AccountFilter) ([]model.Account, error) {
	var conds []string
	var args []any
	if f.Role != "" {
		args = append(args, string(f.Role))
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.Username != "" {
		args = append(args, f.Username)
		conds = append(conds, fmt.Sprintf("lower(username) = lower($%d)", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}

	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY username ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByRole returns the number of accounts per role
func (r *accountRepo) CountByRole(ctx context.Context) (map[model.Role]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM accounts GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Role]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.Role(role)] = n
	}
	return counts, rows.Err()
}

// RecordFailedAttempt increments failed_attempts and sets a self-lock once the
// counter reaches threshold. Returns the updated account.
func (r *accountRepo) RecordFailedAttempt(ctx context.Context, id uuid.UUID, threshold int) (model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET failed_attempts = failed_attempts + 1,
		    locked       = CASE WHEN failed_attempts + 1 >= $2 THEN TRUE ELSE locked END,
		    lock_reason  = CASE WHEN failed_attempts + 1 >= $2 THEN 'self' ELSE lock_reason END,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN NULL ELSE locked_until END
		WHERE id = $1
		RETURNING `+accountColumns, id, threshold))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, fmt.Errorf("account: %w", ErrNotFound)
		}
		return model.Account{}, fmt.Errorf("record failed attempt: %w", err)
	}
	return a, nil
}

func (r *accountRepo) exec(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", what, ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// ClearFailedAttempts resets the failed-attempt counter
func (r *accountRepo) ClearFailedAttempts(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "clear failed attempts", `UPDATE accounts SET failed_attempts = 0 WHERE id = $1`, id)
}

// Lock locks the account for the given reason until the given time (nil for indefinitely)
func (r *accountRepo) Lock(ctx context.Context, id uuid.UUID, reason model.LockReason, until *time.Time) error {
	return r.exec(ctx, "lock account", `
		UPDATE accounts SET locked = TRUE, lock_reason = $2, locked_until = $3 WHERE id = $1
	`, id, string(reason), until)
}

// Unlock clears any lock and the failed-attempt counter
func (r *accountRepo) Unlock(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "unlock account", `
		UPDATE accounts SET locked = FALSE, lock_reason = '', locked_until = NULL, failed_attempts = 0 WHERE id = $1
	`, id)
}

// SetTOTPSecret stores an unconfirmed TOTP secret
func (r *accountRepo) SetTOTPSecret(ctx context.Context, id uuid.UUID, secret string) error {
	return r.exec(ctx, "set totp secret", `UPDATE accounts SET totp_secret = $2, totp_enabled = FALSE WHERE id = $1`, id, secret)
}

// SetTOTPEnabled flips the TOTP enabled flag
func (r *accountRepo) SetTOTPEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.exec(ctx, "set totp enabled", `UPDATE accounts SET totp_enabled = $2 WHERE id = $1`, id, enabled)
}

// ClearTOTP removes the TOTP secret and disables TOTP
func (r *accountRepo) ClearTOTP(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "clear totp", `UPDATE accounts SET totp_secret = '', totp_enabled = FALSE WHERE id = $1`, id)
}

// SetEmail2FA flips the email second-factor flag
func (r *accountRepo) SetEmail2FA(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.exec(ctx, "set email 2fa", `UPDATE accounts SET email_2fa_enabled = $2 WHERE id = $1`, id, enabled)
}

// MarkEmailVerified records that the account proved access to its email
func (r *accountRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "mark email verified", `UPDATE accounts SET email_verified = TRUE WHERE id = $1`, id)
}

// SetResetToken stores the hash of a new reset token, replacing any previous one
func (r *accountRepo) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, issuedAt time.Time) error {
	return r.exec(ctx, "set reset token", `
		UPDATE accounts SET reset_token_hash = $2, reset_token_issued_at = $3 WHERE id = $1
	`, id, tokenHash, issuedAt)
}

// ClearResetToken removes the reset token
func (r *accountRepo) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "clear reset token", `
		UPDATE accounts SET reset_token_hash = '', reset_token_issued_at = NULL WHERE id = $1
	`, id)
}

// CompletePasswordReset sets the new password hash, clears the reset token and any lockout
func (r *accountRepo) CompletePasswordReset(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.exec(ctx, "complete password reset", `
		UPDATE accounts
		SET password_hash = $2,
		    reset_token_hash = '', reset_token_issued_at = NULL,
		    failed_attempts = 0, locked = FALSE, lock_reason = '', locked_until = NULL
		WHERE id = $1
	`, id, passwordHash)
}

// UpdatePassword sets a new password hash
func (r *accountRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.exec(ctx, "update password", `UPDATE accounts SET password_hash = $2 WHERE id = $1`, id, passwordHash)
}

// UpdateContact sets email and phone. A changed email is no longer verified.
func (r *accountRepo) UpdateContact(ctx context.Context, id uuid.UUID, email, phone string) error {
	return r.exec(ctx, "update contact", `
		UPDATE accounts
		SET email_verified = CASE WHEN lower(email) = lower($2) THEN email_verified ELSE FALSE END,
		    email_2fa_enabled = CASE WHEN lower(email) = lower($2) THEN email_2fa_enabled ELSE FALSE END,
		    email = $2, phone = $3
		WHERE id = $1
	`, id, email, phone)
}

// AdjustPoints adds delta to the points balance and returns the new balance
func (r *accountRepo) AdjustPoints(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var balance int
	err := r.db.QueryRowContext(ctx, `
		UPDATE accounts SET points = points + $2 WHERE id = $1 RETURNING points
	`, id, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("account: %w", ErrNotFound)
		}
		if isOutOfRange(err) {
			return 0, fmt.Errorf("points balance: %w", ErrOutOfRange)
		}
		return 0, fmt.Errorf("adjust points: %w", err)
	}
	return balance, nil
}
