package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gigwork/settlement-backend/internal/events"
	"github.com/gigwork/settlement-backend/internal/goroutine"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
	"github.com/gigwork/settlement-backend/internal/repository"
)

type DisputeRepository interface {
	Create(ctx context.Context, dispute *models.OrderDispute, orderFrom string) (*models.OrderDispute, *models.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.OrderDispute, error)
	GetOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderDispute, error)
	ListOpen(ctx context.Context, limit, offset int) ([]models.OrderDispute, error)
	Resolve(ctx context.Context, disputeID uuid.UUID, resolution string, resolvedByID uuid.UUID, amountToFreelancer decimal.Decimal, settleFunds bool, settle repository.SettleParams) (*models.OrderDispute, *models.Order, error)
	CreateCancellation(ctx context.Context, cancellation *models.OrderCancellation, orderFrom string, escrowFunded bool, settle repository.SettleParams) (*models.OrderCancellation, *models.Order, error)
}

type DisputeService struct {
	disputes  DisputeRepository
	orders    OrderReader
	escrow    EscrowStore
	notifier  Notifier
	publisher events.Publisher
}

func NewDisputeService(disputes DisputeRepository, orders OrderReader, escrow EscrowStore, notifier Notifier, publisher events.Publisher) *DisputeService {
	return &DisputeService{
		disputes:  disputes,
		orders:    orders,
		escrow:    escrow,
		notifier:  notifier,
		publisher: publisher,
	}
}

type RaiseDisputeInput struct {
	OrderID     uuid.UUID       `json:"order_id"`
	DisputeType string          `json:"dispute_type"`
	Description string          `json:"description"`
	Evidence    json.RawMessage `json:"evidence"`
}

// RaiseDispute открывает спор по заказу. Заказ переходит в disputed,
// замороженные средства блокируются до решения администратора.
func (s *DisputeService) RaiseDispute(ctx context.Context, actor *models.Actor, input RaiseDisputeInput) (*models.OrderDispute, error) {
	if !actor.IsActive() {
		return nil, apperror.ErrForbidden
	}
	if input.Description == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "описание спора обязательно")
	}
	if _, ok := models.ValidDisputeTypes[input.DisputeType]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый тип спора")
	}

	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	role := order.RoleOf(actor)
	if role == "" {
		return nil, apperror.ErrForbidden
	}
	if !models.CanTransition(order.Status, models.OrderStatusDisputed, role) {
		return nil, apperror.ErrInvalidTransition
	}

	dispute, _, err := s.disputes.Create(ctx, &models.OrderDispute{
		OrderID:     input.OrderID,
		RaisedByID:  actor.ID,
		DisputeType: input.DisputeType,
		Description: input.Description,
		Evidence:    input.Evidence,
	}, order.Status)
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.notifyOrderParties(order, actor, models.NotificationOrderDisputed, map[string]any{
		"order_id":   order.ID,
		"dispute_id": dispute.ID,
	})
	s.publishAsync(events.Event{
		Type:      events.EventOrderDisputed,
		OrderID:   order.ID,
		ActorID:   &actor.ID,
		OldStatus: order.Status,
		NewStatus: models.OrderStatusDisputed,
	})
	return dispute, nil
}

// GetDispute возвращает активный спор заказа участнику или администратору.
func (s *DisputeService) GetDispute(ctx context.Context, actor *models.Actor, orderID uuid.UUID) (*models.OrderDispute, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if order.RoleOf(actor) == "" {
		return nil, apperror.ErrForbidden
	}
	dispute, err := s.disputes.GetOpenByOrderID(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return dispute, nil
}

// ListOpenDisputes возвращает очередь активных споров администратору.
func (s *DisputeService) ListOpenDisputes(ctx context.Context, actor *models.Actor, limit, offset int) ([]models.OrderDispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	disputes, err := s.disputes.ListOpen(ctx, defaultLimit(limit), offset)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return disputes, nil
}

type ResolveDisputeInput struct {
	DisputeID          uuid.UUID       `json:"dispute_id"`
	Resolution         string          `json:"resolution"`
	AmountToFreelancer decimal.Decimal `json:"amount_to_freelancer"`
}

// ResolveDispute закрывает спор решением администратора: фрилансер получает
// назначенную долю за вычетом пропорциональной комиссии, клиенту возвращается
// остаток, заказ переходит disputed -> refunded.
func (s *DisputeService) ResolveDispute(ctx context.Context, actor *models.Actor, input ResolveDisputeInput) (*models.OrderDispute, error) {
	if !actor.IsAdmin() || !actor.IsActive() {
		return nil, apperror.ErrForbidden
	}
	if input.Resolution == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "текст решения обязателен")
	}
	if input.AmountToFreelancer.IsNegative() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма выплаты не может быть отрицательной")
	}

	dispute, err := s.disputes.GetByID(ctx, input.DisputeID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	order, err := s.orders.GetByID(ctx, dispute.OrderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	escrow, err := s.escrow.GetByOrderID(ctx, dispute.OrderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if input.AmountToFreelancer.GreaterThan(escrow.TotalAmount) {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма выплаты превышает сумму escrow")
	}

	settleFunds := escrow.IsSettleable()
	if !settleFunds && input.AmountToFreelancer.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "escrow не финансирован, выплата невозможна")
	}

	escrowStatus := models.EscrowStatusRefunded
	if input.AmountToFreelancer.Equal(escrow.TotalAmount) {
		escrowStatus = models.EscrowStatusReleased
	}

	resolved, _, err := s.disputes.Resolve(ctx, input.DisputeID, input.Resolution, actor.ID,
		input.AmountToFreelancer, settleFunds, repository.SettleParams{
			OrderID:           dispute.OrderID,
			GrossToFreelancer: input.AmountToFreelancer,
			EscrowStatus:      escrowStatus,
			OrderFrom:         models.OrderStatusDisputed,
			OrderTo:           models.OrderStatusRefunded,
			ChangedByID:       &actor.ID,
			Notes:             input.Resolution,
			RefundReason:      models.RefundReasonDispute,
		})
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.notifyOrderParties(order, actor, models.NotificationOrderDisputed, map[string]any{
		"order_id":   order.ID,
		"dispute_id": resolved.ID,
		"resolution": input.Resolution,
	})
	s.publishAsync(events.Event{
		Type:      events.EventEscrowRefunded,
		OrderID:   order.ID,
		ActorID:   &actor.ID,
		NewStatus: models.OrderStatusRefunded,
		Amount:    &input.AmountToFreelancer,
	})
	return resolved, nil
}

type CancelOrderInput struct {
	OrderID          uuid.UUID       `json:"order_id"`
	Reason           string          `json:"reason"`
	DetailedReason   string          `json:"detailed_reason"`
	RefundPercentage decimal.Decimal `json:"refund_percentage"`
}

// CancelOrder отменяет заказ с частичным возвратом: клиент получает назначенный
// процент от суммы, остаток выплачивается фрилансеру. Неоплаченный заказ
// отменяется без движения денег, но запись об отмене создаётся всегда.
func (s *DisputeService) CancelOrder(ctx context.Context, actor *models.Actor, input CancelOrderInput) (*models.OrderCancellation, error) {
	if !actor.IsActive() {
		return nil, apperror.ErrForbidden
	}
	if input.RefundPercentage.IsNegative() || input.RefundPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, apperror.New(apperror.ErrCodeValidation, "процент возврата должен быть в диапазоне 0..100")
	}
	reason := input.Reason
	if reason == "" {
		reason = models.CancellationReasonOther
	}

	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	role := order.RoleOf(actor)
	if role == "" {
		return nil, apperror.ErrForbidden
	}
	if !models.CanTransition(order.Status, models.OrderStatusCancelled, role) {
		return nil, apperror.ErrInvalidTransition
	}
	// процент возврата, отличный от полного, назначает только администратор
	if !input.RefundPercentage.Equal(decimal.NewFromInt(100)) && role != models.UserTypeAdmin {
		return nil, apperror.New(apperror.ErrCodeForbidden, "частичный возврат назначает администратор")
	}

	escrow, err := s.escrow.GetByOrderID(ctx, input.OrderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	refundAmount := order.TotalPrice.Mul(input.RefundPercentage).Div(decimal.NewFromInt(100)).Round(models.MoneyPrecision)
	gross := order.TotalPrice.Sub(refundAmount)
	escrowStatus := models.EscrowStatusRefunded
	if refundAmount.IsZero() {
		escrowStatus = models.EscrowStatusReleased
	}
	notes := input.DetailedReason
	if notes == "" {
		notes = "Заказ отменён"
	}

	cancellation, _, err := s.disputes.CreateCancellation(ctx, &models.OrderCancellation{
		OrderID:          input.OrderID,
		CancelledByID:    actor.ID,
		Reason:           reason,
		DetailedReason:   notes,
		RefundAmount:     refundAmount,
		RefundPercentage: input.RefundPercentage,
	}, order.Status, escrow.IsSettleable(), repository.SettleParams{
		OrderID:           input.OrderID,
		GrossToFreelancer: gross,
		EscrowStatus:      escrowStatus,
		OrderFrom:         order.Status,
		OrderTo:           models.OrderStatusCancelled,
		ChangedByID:       &actor.ID,
		Notes:             notes,
		RefundReason:      models.RefundReasonCancellation,
	})
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.notifyOrderParties(order, actor, models.NotificationOrderCancelled, map[string]any{
		"order_id":      order.ID,
		"refund_amount": refundAmount,
	})
	s.publishAsync(events.Event{
		Type:      events.EventOrderCancelled,
		OrderID:   order.ID,
		ActorID:   &actor.ID,
		OldStatus: order.Status,
		NewStatus: models.OrderStatusCancelled,
		Amount:    &refundAmount,
	})
	return cancellation, nil
}

// notifyOrderParties уведомляет обе стороны заказа, кроме инициатора.
func (s *DisputeService) notifyOrderParties(order *models.Order, actor *models.Actor, notificationType string, payload map[string]any) {
	recipients := []uuid.UUID{}
	if actor.ID != order.ClientID {
		recipients = append(recipients, order.ClientID)
	}
	if actor.ID != order.FreelancerID {
		recipients = append(recipients, order.FreelancerID)
	}
	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		raw, _ := json.Marshal(payload)
		for _, recipient := range recipients {
			s.notifier.Notify(ctx, recipient, notificationType, raw)
		}
	})
}

func (s *DisputeService) publishAsync(event events.Event) {
	event.OccurredAt = time.Now()
	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.publisher.Publish(ctx, event)
	})
}
