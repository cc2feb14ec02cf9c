package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/gigwork/settlement-backend/internal/logger"
	"github.com/gigwork/settlement-backend/internal/models"
)

type NotificationStore interface {
	Create(ctx context.Context, userID uuid.UUID, notificationType string, payload json.RawMessage) (*models.Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, onlyUnread bool, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
}

// Broadcaster доставляет уведомления в открытые WebSocket соединения.
type Broadcaster interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// NotificationService сохраняет уведомления и рассылает их онлайн-участникам.
type NotificationService struct {
	store       NotificationStore
	broadcaster Broadcaster
}

func NewNotificationService(store NotificationStore, broadcaster Broadcaster) *NotificationService {
	return &NotificationService{store: store, broadcaster: broadcaster}
}

// Notify сохраняет уведомление и отправляет его в WebSocket.
// Доставка best-effort: ошибки логируются и не возвращаются вызывающему.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, notificationType string, payload json.RawMessage) {
	if _, err := s.store.Create(ctx, userID, notificationType, payload); err != nil {
		logger.Log.WithError(err).WithField("user_id", userID).Warn("Не удалось сохранить уведомление")
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.BroadcastToUser(userID, notificationType, payload); err != nil {
			logger.Log.WithError(err).WithField("user_id", userID).Debug("Не удалось отправить уведомление в WebSocket")
		}
	}
}

// ListNotifications возвращает уведомления актора.
func (s *NotificationService) ListNotifications(ctx context.Context, actor *models.Actor, onlyUnread bool, limit, offset int) ([]models.Notification, error) {
	notifications, err := s.store.ListByUser(ctx, actor.ID, onlyUnread, defaultLimit(limit), offset)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return notifications, nil
}

// MarkRead помечает уведомление прочитанным.
func (s *NotificationService) MarkRead(ctx context.Context, actor *models.Actor, notificationID uuid.UUID) error {
	if err := s.store.MarkRead(ctx, actor.ID, notificationID); err != nil {
		return translateRepositoryError(err)
	}
	return nil
}

// MarkAllRead помечает все уведомления актора прочитанными.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor *models.Actor) error {
	if err := s.store.MarkAllRead(ctx, actor.ID); err != nil {
		return translateRepositoryError(err)
	}
	return nil
}
