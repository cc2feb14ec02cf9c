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

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order, extras []models.OrderExtra, requirements []string) (*models.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to string, changedByID *uuid.UUID, notes string) (*models.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, status string, limit, offset int) ([]models.Order, error)
	ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, status string, limit, offset int) ([]models.Order, error)
	GetExtras(ctx context.Context, orderID uuid.UUID) ([]models.OrderExtra, error)
	GetRequirements(ctx context.Context, orderID uuid.UUID) ([]models.OrderRequirement, error)
	ProvideRequirements(ctx context.Context, orderID uuid.UUID, responses []repository.RequirementResponse, changedByID *uuid.UUID) (*models.Order, error)
}

type EscrowStore interface {
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error)
	Settle(ctx context.Context, params repository.SettleParams) (*models.Order, *models.Escrow, error)
}

type DeliveryStore interface {
	Latest(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
	Reject(ctx context.Context, deliveryID uuid.UUID, reason string, changedByID *uuid.UUID) (*models.Delivery, *models.Order, error)
}

type CancellationStore interface {
	Create(ctx context.Context, dispute *models.OrderDispute, orderFrom string) (*models.OrderDispute, *models.Order, error)
	CreateCancellation(ctx context.Context, cancellation *models.OrderCancellation, orderFrom string, escrowFunded bool, settle repository.SettleParams) (*models.OrderCancellation, *models.Order, error)
}

// Notifier доставляет уведомления участникам. Сбой доставки не влияет на операцию.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, notificationType string, payload json.RawMessage)
}

type OrderService struct {
	orders        OrderRepository
	escrow        EscrowStore
	deliveries    DeliveryStore
	cancellations CancellationStore
	notifier      Notifier
	publisher     events.Publisher

	platformFeePercent decimal.Decimal
	reviewWindow       time.Duration
}

func NewOrderService(
	orders OrderRepository,
	escrow EscrowStore,
	deliveries DeliveryStore,
	cancellations CancellationStore,
	notifier Notifier,
	publisher events.Publisher,
	platformFeePercent decimal.Decimal,
	reviewWindow time.Duration,
) *OrderService {
	return &OrderService{
		orders:             orders,
		escrow:             escrow,
		deliveries:         deliveries,
		cancellations:      cancellations,
		notifier:           notifier,
		publisher:          publisher,
		platformFeePercent: platformFeePercent,
		reviewWindow:       reviewWindow,
	}
}

type OrderExtraInput struct {
	GigExtraID uuid.UUID       `json:"gig_extra_id"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

type CreateOrderInput struct {
	FreelancerID      uuid.UUID         `json:"freelancer_id"`
	GigID             uuid.UUID         `json:"gig_id"`
	PackageID         uuid.UUID         `json:"package_id"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Priority          string            `json:"priority"`
	BasePrice         decimal.Decimal   `json:"base_price"`
	RevisionsIncluded int               `json:"revisions_included"`
	DeliveryDeadline  time.Time         `json:"delivery_deadline"`
	Extras            []OrderExtraInput `json:"extras"`
	Requirements      []string          `json:"requirements"`
}

// CreateOrder создаёт заказ в статусе pending с рассчитанными суммами.
// Комиссия платформы фиксируется в момент создания и не меняется с тарифом.
func (s *OrderService) CreateOrder(ctx context.Context, actor *models.Actor, input CreateOrderInput) (*models.Order, error) {
	if !actor.IsActive() {
		return nil, apperror.ErrForbidden
	}
	if actor.UserType != models.UserTypeClient {
		return nil, apperror.New(apperror.ErrCodeForbidden, "заказы создают только клиенты")
	}
	if actor.ID == input.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя заказать услугу у самого себя")
	}
	if input.Title == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "название заказа обязательно")
	}
	if !input.BasePrice.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена должна быть положительной")
	}
	if input.RevisionsIncluded < models.RevisionsUnlimited {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимое число правок")
	}
	if !input.DeliveryDeadline.After(time.Now()) {
		return nil, apperror.New(apperror.ErrCodeValidation, "срок сдачи должен быть в будущем")
	}
	priority := input.Priority
	if priority == "" {
		priority = models.OrderPriorityStandard
	}
	if _, ok := models.ValidOrderPriorities[priority]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый приоритет")
	}

	extrasPrice := decimal.Zero
	extras := make([]models.OrderExtra, 0, len(input.Extras))
	for _, extra := range input.Extras {
		if extra.Quantity <= 0 || extra.Price.IsNegative() {
			return nil, apperror.New(apperror.ErrCodeValidation, "недопустимая допуслуга")
		}
		lineTotal := extra.Price.Mul(decimal.NewFromInt(int64(extra.Quantity)))
		extrasPrice = extrasPrice.Add(lineTotal)
		extras = append(extras, models.OrderExtra{
			GigExtraID: extra.GigExtraID,
			Title:      extra.Title,
			Quantity:   extra.Quantity,
			Price:      extra.Price,
		})
	}

	totalPrice := input.BasePrice.Add(extrasPrice)
	platformFee := totalPrice.Mul(s.platformFeePercent).Div(decimal.NewFromInt(100)).Round(models.MoneyPrecision)

	order := &models.Order{
		ClientID:           actor.ID,
		FreelancerID:       input.FreelancerID,
		GigID:              input.GigID,
		PackageID:          input.PackageID,
		Title:              input.Title,
		Description:        input.Description,
		Priority:           priority,
		BasePrice:          input.BasePrice,
		ExtrasPrice:        extrasPrice,
		TotalPrice:         totalPrice,
		PlatformFee:        platformFee,
		FreelancerEarnings: totalPrice.Sub(platformFee),
		RevisionsIncluded:  input.RevisionsIncluded,
		DeliveryDeadline:   input.DeliveryDeadline,
		EstimatedDelivery:  input.DeliveryDeadline,
	}

	created, err := s.orders.Create(ctx, order, extras, input.Requirements)
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventOrderCreated,
		OrderID:   created.ID,
		ActorID:   &actor.ID,
		NewStatus: created.Status,
		Amount:    &created.TotalPrice,
	})
	return created, nil
}

// GetOrder возвращает заказ участнику или администратору.
func (s *OrderService) GetOrder(ctx context.Context, actor *models.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if order.RoleOf(actor) == "" {
		return nil, apperror.ErrForbidden
	}
	return order, nil
}

// ListOrders возвращает заказы актора в его роли.
func (s *OrderService) ListOrders(ctx context.Context, actor *models.Actor, status string, limit, offset int) ([]models.Order, error) {
	if status != "" {
		if _, ok := models.ValidOrderStatuses[status]; !ok {
			return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый статус")
		}
	}
	limit = defaultLimit(limit)

	var (
		orders []models.Order
		err    error
	)
	if actor.UserType == models.UserTypeFreelancer {
		orders, err = s.orders.ListByFreelancer(ctx, actor.ID, status, limit, offset)
	} else {
		orders, err = s.orders.ListByClient(ctx, actor.ID, status, limit, offset)
	}
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return orders, nil
}

// History возвращает журнал переходов заказа.
func (s *OrderService) History(ctx context.Context, actor *models.Actor, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	history, err := s.orders.History(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return history, nil
}

// GetRequirements возвращает требования заказа.
func (s *OrderService) GetRequirements(ctx context.Context, actor *models.Actor, orderID uuid.UUID) ([]models.OrderRequirement, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	requirements, err := s.orders.GetRequirements(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return requirements, nil
}

// ProvideRequirements сохраняет ответы клиента и переводит заказ
// в requirements_provided.
func (s *OrderService) ProvideRequirements(ctx context.Context, actor *models.Actor, orderID uuid.UUID, responses []repository.RequirementResponse) (*models.Order, error) {
	order, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	role := order.RoleOf(actor)
	if role != models.UserTypeClient && role != models.UserTypeAdmin {
		return nil, apperror.New(apperror.ErrCodeForbidden, "требования предоставляет клиент")
	}
	if len(responses) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "ответы на требования обязательны")
	}

	updated, err := s.orders.ProvideRequirements(ctx, orderID, responses, &actor.ID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.publishStatusEvent(ctx, updated, actor, order.Status)
	return updated, nil
}

// UpdateStatus — единая точка переходов статуса заказа.
// Проверяет активность актора, его роль, легальность ребра и права на него,
// затем выполняет переход вместе с его денежными последствиями.
func (s *OrderService) UpdateStatus(ctx context.Context, actor *models.Actor, orderID uuid.UUID, newStatus, notes string) (*models.Order, error) {
	if !actor.IsActive() {
		return nil, apperror.ErrForbidden
	}
	if _, ok := models.ValidOrderStatuses[newStatus]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый статус")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	role := order.RoleOf(actor)
	if role == "" {
		return nil, apperror.ErrForbidden
	}
	if !models.IsLegalTransition(order.Status, newStatus) {
		return nil, apperror.ErrInvalidTransition
	}
	if !models.CanTransition(order.Status, newStatus, role) {
		return nil, apperror.ErrForbidden
	}

	var updated *models.Order
	switch newStatus {
	case models.OrderStatusPaid:
		return nil, apperror.New(apperror.ErrCodeValidation, "оплата выполняется через платёжный поток")
	case models.OrderStatusDelivered:
		return nil, apperror.New(apperror.ErrCodeValidation, "сдача работы выполняется через поток сдачи")
	case models.OrderStatusRequirementsProvided:
		return nil, apperror.New(apperror.ErrCodeValidation, "требования предоставляются отдельной операцией")
	case models.OrderStatusCompleted:
		updated, err = s.completeOrder(ctx, actor, order, notes)
	case models.OrderStatusRevisionRequested:
		updated, err = s.requestRevision(ctx, actor, order, notes)
	case models.OrderStatusCancelled:
		updated, err = s.cancelFully(ctx, actor, order, notes)
	case models.OrderStatusDisputed:
		updated, err = s.disputeOrder(ctx, actor, order, notes)
	case models.OrderStatusRefunded:
		updated, err = s.refundOrder(ctx, actor, order, notes)
	default:
		updated, err = s.orders.UpdateStatus(ctx, orderID, order.Status, newStatus, &actor.ID, notes)
		if err != nil {
			err = translateRepositoryError(err)
		}
	}
	if err != nil {
		return nil, err
	}

	s.publishStatusEvent(ctx, updated, actor, order.Status)
	return updated, nil
}

// completeOrder принимает работу: escrow выплачивается целиком,
// последняя сдача помечается принятой.
func (s *OrderService) completeOrder(ctx context.Context, actor *models.Actor, order *models.Order, notes string) (*models.Order, error) {
	escrow, err := s.escrow.GetByOrderID(ctx, order.ID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	var acceptDeliveryID *uuid.UUID
	latest, err := s.deliveries.Latest(ctx, order.ID)
	if err == nil && latest.IsPending() {
		acceptDeliveryID = &latest.ID
	}

	if notes == "" {
		notes = "Клиент принял работу"
	}
	reviewDeadline := time.Now().Add(s.reviewWindow)
	updated, _, err := s.escrow.Settle(ctx, repository.SettleParams{
		OrderID:           order.ID,
		GrossToFreelancer: escrow.TotalAmount,
		EscrowStatus:      models.EscrowStatusReleased,
		OrderFrom:         order.Status,
		OrderTo:           models.OrderStatusCompleted,
		ChangedByID:       &actor.ID,
		Notes:             notes,
		ReviewDeadline:    &reviewDeadline,
		AcceptDeliveryID:  acceptDeliveryID,
	})
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.notifyAsync(order.FreelancerID, models.NotificationOrderCompleted, map[string]any{
		"order_id": order.ID,
		"amount":   escrow.FreelancerAmount,
	})
	s.publishEvent(ctx, events.Event{
		Type:    events.EventEscrowReleased,
		OrderID: order.ID,
		ActorID: &actor.ID,
		Amount:  &escrow.TotalAmount,
	})
	return updated, nil
}

// requestRevision отклоняет последнюю сдачу и возвращает заказ на доработку.
func (s *OrderService) requestRevision(ctx context.Context, actor *models.Actor, order *models.Order, notes string) (*models.Order, error) {
	if !order.HasRevisionsLeft() {
		return nil, apperror.New(apperror.ErrCodeValidation, "лимит правок по пакету исчерпан")
	}
	latest, err := s.deliveries.Latest(ctx, order.ID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if notes == "" {
		notes = "Клиент запросил доработку"
	}
	_, updated, err := s.deliveries.Reject(ctx, latest.ID, notes, &actor.ID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.notifyAsync(order.FreelancerID, models.NotificationRevisionAsked, map[string]any{
		"order_id": order.ID,
		"reason":   notes,
	})
	return updated, nil
}

// cancelFully отменяет заказ с полным возвратом средств клиенту.
// Частичная отмена выполняется через операцию отмены с процентом возврата.
func (s *OrderService) cancelFully(ctx context.Context, actor *models.Actor, order *models.Order, notes string) (*models.Order, error) {
	escrowFunded, err := s.isEscrowSettleable(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	reason := models.CancellationReasonClientRequest
	switch order.RoleOf(actor) {
	case models.UserTypeFreelancer:
		reason = models.CancellationReasonFreelancerRequest
	case models.UserTypeAdmin:
		reason = models.CancellationReasonPlatform
	}
	if notes == "" {
		notes = "Заказ отменён"
	}

	_, updated, err := s.cancellations.CreateCancellation(ctx, &models.OrderCancellation{
		OrderID:          order.ID,
		CancelledByID:    actor.ID,
		Reason:           reason,
		DetailedReason:   notes,
		RefundAmount:     order.TotalPrice,
		RefundPercentage: decimal.NewFromInt(100),
	}, order.Status, escrowFunded, repository.SettleParams{
		OrderID:           order.ID,
		GrossToFreelancer: decimal.Zero,
		EscrowStatus:      models.EscrowStatusRefunded,
		OrderFrom:         order.Status,
		OrderTo:           models.OrderStatusCancelled,
		ChangedByID:       &actor.ID,
		Notes:             notes,
		RefundReason:      models.RefundReasonCancellation,
	})
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.notifyCounterparty(order, actor, models.NotificationOrderCancelled, map[string]any{
		"order_id": order.ID,
		"reason":   notes,
	})
	return updated, nil
}

// disputeOrder открывает спор общего типа через переход статуса.
func (s *OrderService) disputeOrder(ctx context.Context, actor *models.Actor, order *models.Order, notes string) (*models.Order, error) {
	if notes == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "описание спора обязательно")
	}
	_, updated, err := s.cancellations.Create(ctx, &models.OrderDispute{
		OrderID:     order.ID,
		RaisedByID:  actor.ID,
		DisputeType: models.DisputeTypeOther,
		Description: notes,
	}, order.Status)
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.notifyCounterparty(order, actor, models.NotificationOrderDisputed, map[string]any{
		"order_id": order.ID,
		"reason":   notes,
	})
	return updated, nil
}

// refundOrder подтверждает возврат администратором. Если escrow ещё держит
// средства, они возвращаются клиенту целиком; уже закрытый escrow не трогается.
func (s *OrderService) refundOrder(ctx context.Context, actor *models.Actor, order *models.Order, notes string) (*models.Order, error) {
	if notes == "" {
		notes = "Возврат подтверждён администратором"
	}
	settleable, err := s.isEscrowSettleable(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	var updated *models.Order
	if settleable {
		updated, _, err = s.escrow.Settle(ctx, repository.SettleParams{
			OrderID:           order.ID,
			GrossToFreelancer: decimal.Zero,
			EscrowStatus:      models.EscrowStatusRefunded,
			OrderFrom:         order.Status,
			OrderTo:           models.OrderStatusRefunded,
			ChangedByID:       &actor.ID,
			Notes:             notes,
			RefundReason:      models.RefundReasonDispute,
		})
	} else {
		updated, err = s.orders.UpdateStatus(ctx, order.ID, order.Status, models.OrderStatusRefunded, &actor.ID, notes)
	}
	if err != nil {
		return nil, translateRepositoryError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:    events.EventEscrowRefunded,
		OrderID: order.ID,
		ActorID: &actor.ID,
		Amount:  &order.TotalPrice,
	})
	return updated, nil
}

func (s *OrderService) isEscrowSettleable(ctx context.Context, orderID uuid.UUID) (bool, error) {
	escrow, err := s.escrow.GetByOrderID(ctx, orderID)
	if err != nil {
		return false, translateRepositoryError(err)
	}
	return escrow.IsSettleable(), nil
}

func (s *OrderService) publishStatusEvent(ctx context.Context, order *models.Order, actor *models.Actor, oldStatus string) {
	s.publishEvent(ctx, events.Event{
		Type:      events.EventOrderStatusChanged,
		OrderID:   order.ID,
		ActorID:   &actor.ID,
		OldStatus: oldStatus,
		NewStatus: order.Status,
	})
}

func (s *OrderService) publishEvent(_ context.Context, event events.Event) {
	event.OccurredAt = time.Now()
	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.publisher.Publish(ctx, event)
	})
}

func (s *OrderService) notifyAsync(userID uuid.UUID, notificationType string, payload map[string]any) {
	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		raw, _ := json.Marshal(payload)
		s.notifier.Notify(ctx, userID, notificationType, raw)
	})
}

// notifyCounterparty уведомляет вторую сторону заказа.
func (s *OrderService) notifyCounterparty(order *models.Order, actor *models.Actor, notificationType string, payload map[string]any) {
	recipient := order.FreelancerID
	if actor.ID == order.FreelancerID {
		recipient = order.ClientID
	}
	s.notifyAsync(recipient, notificationType, payload)
}
