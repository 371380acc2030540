package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/tripletsrewards/server/internal/model"
)

// NotificationRepo defines the interface for in-app notification operations
type NotificationRepo interface {
	Create(ctx context.Context, recipientID uuid.UUID, senderID *uuid.UUID, message string) (model.Notification, error)
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]model.Notification, error)
}

type notificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo creates a new NotificationRepo instance
func NewNotificationRepo(db *sql.DB) NotificationRepo {
	return &notificationRepo{db: db}
}

// Create creates a notification for a recipient
func (r *notificationRepo) Create(ctx context.Context, recipientID uuid.UUID, senderID *uuid.UUID, message string) (model.Notification, error) {
	n := model.Notification{
		RecipientID: recipientID,
		SenderID:    senderID,
		Message:     message,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (recipient_id, sender_id, message)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, recipientID, senderID, message).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// ListForRecipient returns the newest notifications of a recipient
func (r *notificationRepo) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]model.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient_id, sender_id, message, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
