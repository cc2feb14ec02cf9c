package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы споров
const (
	DisputeStatusOpen          = "open"
	DisputeStatusInvestigating = "investigating"
	DisputeStatusResolved      = "resolved"
	DisputeStatusClosed        = "closed"
)

// Типы споров
const (
	DisputeTypeDelivery      = "delivery"
	DisputeTypeQuality       = "quality"
	DisputeTypeCommunication = "communication"
	DisputeTypePayment       = "payment"
	DisputeTypeOther         = "other"
)

// ValidDisputeTypes список валидных типов споров
var ValidDisputeTypes = map[string]struct{}{
	DisputeTypeDelivery:      {},
	DisputeTypeQuality:       {},
	DisputeTypeCommunication: {},
	DisputeTypePayment:       {},
	DisputeTypeOther:         {},
}

// OrderDispute — спор по заказу, не более одного активного на заказ.
type OrderDispute struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	OrderID          uuid.UUID        `db:"order_id" json:"order_id"`
	RaisedByID       uuid.UUID        `db:"raised_by_id" json:"raised_by_id"`
	DisputeType      string           `db:"dispute_type" json:"dispute_type"`
	Description      string           `db:"description" json:"description"`
	Evidence         json.RawMessage  `db:"evidence" json:"evidence,omitempty"`
	Status           string           `db:"status" json:"status"`
	Resolution       *string          `db:"resolution" json:"resolution,omitempty"`
	ResolutionAmount *decimal.Decimal `db:"resolution_amount" json:"resolution_amount,omitempty"`
	ResolvedByID     *uuid.UUID       `db:"resolved_by_id" json:"resolved_by_id,omitempty"`
	ResolvedAt       *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// IsOpen сообщает, активен ли спор.
func (d *OrderDispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen || d.Status == DisputeStatusInvestigating
}

// Причины отмены заказов
const (
	CancellationReasonClientRequest     = "client_request"
	CancellationReasonFreelancerRequest = "freelancer_request"
	CancellationReasonMutualAgreement   = "mutual_agreement"
	CancellationReasonPlatform          = "platform_intervention"
	CancellationReasonFraud             = "fraud"
	CancellationReasonOther             = "other"
)

// OrderCancellation — запись об отмене заказа с расчётом возврата.
type OrderCancellation struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	OrderID          uuid.UUID       `db:"order_id" json:"order_id"`
	CancelledByID    uuid.UUID       `db:"cancelled_by_id" json:"cancelled_by_id"`
	Reason           string          `db:"reason" json:"reason"`
	DetailedReason   string          `db:"detailed_reason" json:"detailed_reason"`
	RefundAmount     decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	RefundPercentage decimal.Decimal `db:"refund_percentage" json:"refund_percentage"`
	IsProcessed      bool            `db:"is_processed" json:"is_processed"`
	ProcessedAt      *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}
