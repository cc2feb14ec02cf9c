package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatusHistory — неизменяемая запись об одном переходе статуса заказа.
// Создаётся ровно один раз на успешный переход, неуспешные попытки следа не оставляют.
type OrderStatusHistory struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OrderID     uuid.UUID  `db:"order_id" json:"order_id"`
	OldStatus   string     `db:"old_status" json:"old_status"`
	NewStatus   string     `db:"new_status" json:"new_status"`
	ChangedByID *uuid.UUID `db:"changed_by_id" json:"changed_by_id,omitempty"`
	Notes       string     `db:"notes" json:"notes"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
