package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus константы статусов заказов
const (
	OrderStatusPending              = "pending"
	OrderStatusPaid                 = "paid"
	OrderStatusRequirementsProvided = "requirements_provided"
	OrderStatusInProgress           = "in_progress"
	OrderStatusDelivered            = "delivered"
	OrderStatusRevisionRequested    = "revision_requested"
	OrderStatusCompleted            = "completed"
	OrderStatusCancelled            = "cancelled"
	OrderStatusRefunded             = "refunded"
	OrderStatusDisputed             = "disputed"
)

// OrderPriority константы приоритетов заказов
const (
	OrderPriorityLow      = "low"
	OrderPriorityStandard = "standard"
	OrderPriorityHigh     = "high"
	OrderPriorityUrgent   = "urgent"
)

// ValidOrderStatuses список валидных статусов заказов
var ValidOrderStatuses = map[string]struct{}{
	OrderStatusPending:              {},
	OrderStatusPaid:                 {},
	OrderStatusRequirementsProvided: {},
	OrderStatusInProgress:           {},
	OrderStatusDelivered:            {},
	OrderStatusRevisionRequested:    {},
	OrderStatusCompleted:            {},
	OrderStatusCancelled:            {},
	OrderStatusRefunded:             {},
	OrderStatusDisputed:             {},
}

// ValidOrderPriorities список валидных приоритетов
var ValidOrderPriorities = map[string]struct{}{
	OrderPriorityLow:      {},
	OrderPriorityStandard: {},
	OrderPriorityHigh:     {},
	OrderPriorityUrgent:   {},
}

// RevisionsUnlimited означает, что пакет не ограничивает число правок.
const RevisionsUnlimited = -1

// Order описывает покупку пакета услуг клиентом у фрилансера.
type Order struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	OrderNumber        string          `db:"order_number" json:"order_number"`
	ClientID           uuid.UUID       `db:"client_id" json:"client_id"`
	FreelancerID       uuid.UUID       `db:"freelancer_id" json:"freelancer_id"`
	GigID              uuid.UUID       `db:"gig_id" json:"gig_id"`
	PackageID          uuid.UUID       `db:"package_id" json:"package_id"`
	Title              string          `db:"title" json:"title"`
	Description        string          `db:"description" json:"description"`
	Status             string          `db:"status" json:"status"`
	Priority           string          `db:"priority" json:"priority"`
	BasePrice          decimal.Decimal `db:"base_price" json:"base_price"`
	ExtrasPrice        decimal.Decimal `db:"extras_price" json:"extras_price"`
	TotalPrice         decimal.Decimal `db:"total_price" json:"total_price"`
	PlatformFee        decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	FreelancerEarnings decimal.Decimal `db:"freelancer_earnings" json:"freelancer_earnings"`
	RevisionsIncluded  int             `db:"revisions_included" json:"revisions_included"`
	RevisionsUsed      int             `db:"revisions_used" json:"revisions_used"`
	DeliveryDeadline   time.Time       `db:"delivery_deadline" json:"delivery_deadline"`
	EstimatedDelivery  time.Time       `db:"estimated_delivery" json:"estimated_delivery"`
	ActualDelivery     *time.Time      `db:"actual_delivery" json:"actual_delivery,omitempty"`
	CancellationReason *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledByID      *uuid.UUID      `db:"cancelled_by_id" json:"cancelled_by_id,omitempty"`
	CancelledAt        *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// IsOverdue сообщает, просрочен ли заказ.
func (o *Order) IsOverdue(now time.Time) bool {
	if IsTerminalOrderStatus(o.Status) {
		return false
	}
	return now.After(o.DeliveryDeadline)
}

// HasRevisionsLeft сообщает, доступна ли ещё одна правка по пакету.
func (o *Order) HasRevisionsLeft() bool {
	if o.RevisionsIncluded == RevisionsUnlimited {
		return true
	}
	return o.RevisionsUsed < o.RevisionsIncluded
}

// RoleOf возвращает роль актора в рамках заказа.
// Администратор сохраняет свою роль, посторонний получает пустую строку.
func (o *Order) RoleOf(actor *Actor) string {
	if actor.IsAdmin() {
		return UserTypeAdmin
	}
	switch actor.ID {
	case o.ClientID:
		return UserTypeClient
	case o.FreelancerID:
		return UserTypeFreelancer
	}
	return ""
}

// IsTerminalOrderStatus сообщает, является ли статус финальным.
// Из финального статуса заказ не выводится ничем, кроме cancelled/disputed -> refunded.
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// orderTransitions задаёт явные рёбра графа переходов и допустимые роли.
// Переходы в cancelled и disputed из любого нефинального статуса обрабатываются отдельно.
var orderTransitions = map[string]map[string][]string{
	OrderStatusPending: {
		OrderStatusPaid: {UserTypeClient},
	},
	OrderStatusPaid: {
		OrderStatusRequirementsProvided: {UserTypeClient},
	},
	OrderStatusRequirementsProvided: {
		OrderStatusInProgress: {UserTypeFreelancer},
	},
	OrderStatusRevisionRequested: {
		OrderStatusInProgress: {UserTypeFreelancer},
	},
	OrderStatusInProgress: {
		OrderStatusDelivered: {UserTypeFreelancer},
	},
	OrderStatusDelivered: {
		OrderStatusCompleted:         {UserTypeClient},
		OrderStatusRevisionRequested: {UserTypeClient},
	},
	OrderStatusCancelled: {
		OrderStatusRefunded: {UserTypeAdmin},
	},
	OrderStatusDisputed: {
		OrderStatusRefunded: {UserTypeAdmin},
	},
}

// IsLegalTransition проверяет, существует ли ребро перехода в графе,
// независимо от роли актора.
func IsLegalTransition(from, to string) bool {
	if from == to {
		return false
	}
	switch to {
	case OrderStatusCancelled, OrderStatusDisputed:
		return !IsTerminalOrderStatus(from)
	}
	targets, ok := orderTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// CanTransition проверяет, разрешён ли переход для роли.
// Администратор может выполнить любой легальный переход.
func CanTransition(from, to, role string) bool {
	if !IsLegalTransition(from, to) {
		return false
	}
	if role == UserTypeAdmin {
		return true
	}
	switch to {
	case OrderStatusCancelled, OrderStatusDisputed:
		return role == UserTypeClient || role == UserTypeFreelancer
	case OrderStatusRefunded:
		// возврат подтверждает только администратор
		return false
	}
	for _, allowed := range orderTransitions[from][to] {
		if allowed == role {
			return true
		}
	}
	return false
}

// OrderExtra описывает дополнительную услугу, купленную вместе с заказом.
type OrderExtra struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	OrderID    uuid.UUID       `db:"order_id" json:"order_id"`
	GigExtraID uuid.UUID       `db:"gig_extra_id" json:"gig_extra_id"`
	Title      string          `db:"title" json:"title"`
	Quantity   int             `db:"quantity" json:"quantity"`
	Price      decimal.Decimal `db:"price" json:"price"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// OrderRequirement хранит требование клиента к заказу и отметку о предоставлении.
type OrderRequirement struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	OrderID         uuid.UUID  `db:"order_id" json:"order_id"`
	RequirementText string     `db:"requirement_text" json:"requirement_text"`
	Response        *string    `db:"response" json:"response,omitempty"`
	IsProvided      bool       `db:"is_provided" json:"is_provided"`
	ProvidedAt      *time.Time `db:"provided_at" json:"provided_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
