package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/gigwork/settlement-backend/internal/events"
	"github.com/gigwork/settlement-backend/internal/goroutine"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
)

type DeliveryRepository interface {
	Create(ctx context.Context, delivery *models.Delivery, changedByID *uuid.UUID) (*models.Delivery, *models.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Delivery, error)
	Latest(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
}

type OrderStatusUpdater interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to string, changedByID *uuid.UUID, notes string) (*models.Order, error)
}

type DeliveryService struct {
	deliveries DeliveryRepository
	orders     OrderStatusUpdater
	notifier   Notifier
	publisher  events.Publisher
}

func NewDeliveryService(deliveries DeliveryRepository, orders OrderStatusUpdater, notifier Notifier, publisher events.Publisher) *DeliveryService {
	return &DeliveryService{
		deliveries: deliveries,
		orders:     orders,
		notifier:   notifier,
		publisher:  publisher,
	}
}

type SubmitDeliveryInput struct {
	OrderID         uuid.UUID       `json:"order_id"`
	Message         string          `json:"message"`
	Files           json.RawMessage `json:"files"`
	IsFinalDelivery bool            `json:"is_final_delivery"`
}

// SubmitDelivery регистрирует сдачу работы фрилансером.
// Из requirements_provided и revision_requested заказ сначала проходит
// через in_progress, чтобы история переходов оставалась полной.
func (s *DeliveryService) SubmitDelivery(ctx context.Context, actor *models.Actor, input SubmitDeliveryInput) (*models.Delivery, error) {
	if !actor.IsActive() {
		return nil, apperror.ErrForbidden
	}
	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if actor.ID != order.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "работу сдаёт фрилансер заказа")
	}

	switch order.Status {
	case models.OrderStatusInProgress:
	case models.OrderStatusRequirementsProvided, models.OrderStatusRevisionRequested:
		order, err = s.orders.UpdateStatus(ctx, order.ID, order.Status, models.OrderStatusInProgress,
			&actor.ID, "Фрилансер приступил к работе")
		if err != nil {
			return nil, translateRepositoryError(err)
		}
	default:
		return nil, apperror.ErrInvalidTransition
	}

	delivery, _, err := s.deliveries.Create(ctx, &models.Delivery{
		OrderID:         order.ID,
		FreelancerID:    actor.ID,
		Message:         input.Message,
		Files:           input.Files,
		IsFinalDelivery: input.IsFinalDelivery,
	}, &actor.ID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		payload, _ := json.Marshal(map[string]any{
			"order_id":    order.ID,
			"delivery_id": delivery.ID,
		})
		s.notifier.Notify(ctx, order.ClientID, models.NotificationOrderDelivered, payload)

		_ = s.publisher.Publish(ctx, events.Event{
			Type:       events.EventOrderDelivered,
			OrderID:    order.ID,
			ActorID:    &actor.ID,
			NewStatus:  models.OrderStatusDelivered,
			OccurredAt: time.Now(),
		})
	})
	return delivery, nil
}

// GetDelivery возвращает сдачу участнику заказа.
func (s *DeliveryService) GetDelivery(ctx context.Context, actor *models.Actor, deliveryID uuid.UUID) (*models.Delivery, error) {
	delivery, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if _, err := s.accessOrder(ctx, actor, delivery.OrderID); err != nil {
		return nil, err
	}
	return delivery, nil
}

// ListDeliveries возвращает цепочку сдач заказа.
func (s *DeliveryService) ListDeliveries(ctx context.Context, actor *models.Actor, orderID uuid.UUID) ([]models.Delivery, error) {
	if _, err := s.accessOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	deliveries, err := s.deliveries.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return deliveries, nil
}

func (s *DeliveryService) accessOrder(ctx context.Context, actor *models.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if order.RoleOf(actor) == "" {
		return nil, apperror.ErrForbidden
	}
	return order, nil
}
