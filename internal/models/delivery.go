package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Delivery представляет сдачу работы фрилансером.
// Цепочка правок строго линейная: каждая сдача ссылается максимум на одну предыдущую.
type Delivery struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	OrderID            uuid.UUID       `db:"order_id" json:"order_id"`
	FreelancerID       uuid.UUID       `db:"freelancer_id" json:"freelancer_id"`
	Message            string          `db:"message" json:"message"`
	Files              json.RawMessage `db:"files" json:"files,omitempty"`
	IsFinalDelivery    bool            `db:"is_final_delivery" json:"is_final_delivery"`
	IsAccepted         *bool           `db:"is_accepted" json:"is_accepted,omitempty"`
	AcceptedAt         *time.Time      `db:"accepted_at" json:"accepted_at,omitempty"`
	RejectedReason     *string         `db:"rejected_reason" json:"rejected_reason,omitempty"`
	RevisionNumber     int             `db:"revision_number" json:"revision_number"`
	PreviousDeliveryID *uuid.UUID      `db:"previous_delivery_id" json:"previous_delivery_id,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// DeliveryFile описывает один файл, приложенный к сдаче работы.
type DeliveryFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Mime string `json:"mime"`
}

// IsPending сообщает, ожидает ли сдача решения клиента.
func (d *Delivery) IsPending() bool {
	return d.IsAccepted == nil
}
