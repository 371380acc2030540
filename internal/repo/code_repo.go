package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripletsrewards/server/internal/model"
)

// CodeRepo defines the interface for one-time code repository operations
type CodeRepo interface {
	Replace(ctx context.Context, accountID uuid.UUID, purpose model.CodePurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error)
	GetLive(ctx context.Context, accountID uuid.UUID, purpose model.CodePurpose) (model.OneTimeCode, error)
	IncrementAttempt(ctx context.Context, codeID uuid.UUID, maxAttempts int, now time.Time) (int, error)
	MarkConsumed(ctx context.Context, codeID uuid.UUID, now time.Time) error
}

type codeRepo struct {
	db *sql.DB
}

// NewCodeRepo creates a new CodeRepo instance
func NewCodeRepo(db *sql.DB) CodeRepo {
	return &codeRepo{db: db}
}

// Replace consumes every unconsumed code for (account, purpose), including expired
// ones, and inserts a new one. An advisory lock serializes concurrent issuance.
func (r *codeRepo) Replace(ctx context.Context, accountID uuid.UUID, purpose model.CodePurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, accountID.String()+":"+string(purpose))
	if err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE one_time_codes
		SET consumed_at = now()
		WHERE account_id = $1 AND purpose = $2 AND consumed_at IS NULL
	`, accountID, string(purpose))
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume existing codes: %w", err)
	}

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO one_time_codes (account_id, purpose, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, accountID, string(purpose), codeHashHex, expiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetLive returns the latest unconsumed code for (account, purpose). Expiry and the
// attempt ceiling are left to the caller.
func (r *codeRepo) GetLive(ctx context.Context, accountID uuid.UUID, purpose model.CodePurpose) (model.OneTimeCode, error) {
	var c model.OneTimeCode
	var purposeStr, hashHex string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, purpose, code_hash, created_at, expires_at,
		       attempts, last_attempt_at, consumed_at
		FROM one_time_codes
		WHERE account_id = $1 AND purpose = $2 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, string(purpose)).Scan(
		&c.ID,
		&c.AccountID,
		&purposeStr,
		&hashHex,
		&c.CreatedAt,
		&c.ExpiresAt,
		&c.Attempts,
		&c.LastAttemptAt,
		&c.ConsumedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OneTimeCode{}, fmt.Errorf("no live code: %w", ErrNotFound)
		}
		return model.OneTimeCode{}, fmt.Errorf("query code: %w", err)
	}
	c.Purpose = model.CodePurpose(purposeStr)

	c.CodeHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return model.OneTimeCode{}, fmt.Errorf("decode code_hash: %w", err)
	}
	return c, nil
}

// IncrementAttempt bumps attempts in a single conditional update: it only succeeds while
// the code is unconsumed, unexpired and below maxAttempts. Returns the new count, or
// ErrNotFound when the code is no longer usable.
func (r *codeRepo) IncrementAttempt(ctx context.Context, codeID uuid.UUID, maxAttempts int, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		UPDATE one_time_codes
		SET attempts = attempts + 1, last_attempt_at = $3
		WHERE id = $1 AND attempts < $2 AND consumed_at IS NULL AND expires_at > $3
		RETURNING attempts
	`, codeID, maxAttempts, now).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("code not usable: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return n, nil
}

// MarkConsumed stamps consumed_at. Fails with ErrNotFound if the code was already consumed.
func (r *codeRepo) MarkConsumed(ctx context.Context, codeID uuid.UUID, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE one_time_codes SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL
	`, codeID, now)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("code already consumed: %w", ErrNotFound)
	}
	return nil
}
