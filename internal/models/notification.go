package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Типы уведомлений ядра заказов
const (
	NotificationOrderDelivered = "order_delivered"
	NotificationOrderCompleted = "order_completed"
	NotificationOrderDisputed  = "order_disputed"
	NotificationOrderCancelled = "order_cancelled"
	NotificationRevisionAsked  = "revision_requested"
	NotificationEscrowReleased = "escrow_released"
)

// Notification — уведомление участнику заказа. Доставка best-effort:
// сбой уведомления никогда не откатывает вызвавший его переход.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Type      string          `db:"type" json:"type"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	ReadAt    *time.Time      `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
