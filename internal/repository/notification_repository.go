package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gigwork/settlement-backend/internal/models"
)

type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, userID uuid.UUID, notificationType string, payload json.RawMessage) (*models.Notification, error) {
	var notification models.Notification
	err := r.db.GetContext(ctx, &notification, `
		INSERT INTO notifications (user_id, type, payload)
		VALUES ($1, $2, $3)
		RETURNING *
	`, userID, notificationType, payload)
	if err != nil {
		return nil, fmt.Errorf("notification repository: create %w", err)
	}
	return &notification, nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, onlyUnread bool, limit, offset int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := r.db.SelectContext(ctx, &notifications, `
		SELECT * FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, userID, onlyUnread, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("notification repository: list %w", err)
	}
	return notifications, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = NOW()
		WHERE id = $2 AND user_id = $1 AND is_read = FALSE
	`, userID, notificationID)
	if err != nil {
		return fmt.Errorf("notification repository: mark read %w", err)
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = NOW()
		WHERE user_id = $1 AND is_read = FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("notification repository: mark all read %w", err)
	}
	return nil
}
