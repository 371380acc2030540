package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tripletsrewards/server/internal/model"
)

// AuditRepo defines the interface for audit log operations
type AuditRepo interface {
	Append(ctx context.Context, kind, details string) error
	ListRecent(ctx context.Context, limit int) ([]model.AuditEvent, error)
}

type auditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new AuditRepo instance
func NewAuditRepo(db *sql.DB) AuditRepo {
	return &auditRepo{db: db}
}

// Append inserts an audit event
func (r *auditRepo) Append(ctx context.Context, kind, details string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_log (kind, details) VALUES ($1, $2)`, kind, details)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events first
func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, details, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
