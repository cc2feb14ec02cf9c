package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Типы событий ядра заказов
const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderDelivered     = "order.delivered"
	EventOrderCompleted     = "order.completed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderDisputed      = "order.disputed"
	EventEscrowReleased     = "escrow.released"
	EventEscrowRefunded     = "escrow.refunded"
	EventWithdrawalCreated  = "withdrawal.created"
)

// Event — доменное событие для внешних потребителей.
// Публикация best-effort: сбой брокера не откатывает операцию.
type Event struct {
	Type       string           `json:"type"`
	OrderID    uuid.UUID        `json:"order_id"`
	ActorID    *uuid.UUID       `json:"actor_id,omitempty"`
	OldStatus  string           `json:"old_status,omitempty"`
	NewStatus  string           `json:"new_status,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher публикует события во внешнюю шину.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
