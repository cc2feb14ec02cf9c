package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы заявок на вывод
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusRejected   = "rejected"
	WithdrawalStatusCancelled  = "cancelled"
)

// Withdrawal — заявка пользователя на вывод средств.
// Статус заявки не зависит от статусов заказов: деньги списаны при создании,
// отклонение возвращает их на баланс.
type Withdrawal struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Fee             decimal.Decimal `db:"fee" json:"fee"`
	NetAmount       decimal.Decimal `db:"net_amount" json:"net_amount"`
	Method          string          `db:"method" json:"method"`
	Account         string          `db:"account" json:"account"`
	AccountName     string          `db:"account_name" json:"account_name"`
	Status          string          `db:"status" json:"status"`
	TransactionID   *uuid.UUID      `db:"transaction_id" json:"transaction_id,omitempty"`
	BatchID         *uuid.UUID      `db:"batch_id" json:"batch_id,omitempty"`
	RejectionReason *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Статусы батчей выплат
const (
	PayoutBatchStatusPending    = "pending"
	PayoutBatchStatusProcessing = "processing"
	PayoutBatchStatusCompleted  = "completed"
	PayoutBatchStatusFailed     = "failed"
)

// PayoutBatch группирует заявки на вывод для обработки провайдером.
// Обработка батча всё равно проводит каждую заявку через одиночный переход статуса.
type PayoutBatch struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	BatchID          string          `db:"batch_id" json:"batch_id"`
	Status           string          `db:"status" json:"status"`
	Provider         string          `db:"provider" json:"provider"`
	TotalWithdrawals int             `db:"total_withdrawals" json:"total_withdrawals"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	TotalFees        decimal.Decimal `db:"total_fees" json:"total_fees"`
	ProcessedAt      *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Причины возвратов
const (
	RefundReasonCancellation = "cancellation"
	RefundReasonDispute      = "dispute"
	RefundReasonError        = "error"
	RefundReasonReversal     = "reversal"
)

// PaymentRefund связывает исходную транзакцию с компенсирующей.
type PaymentRefund struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	OriginalTransactionID uuid.UUID       `db:"original_transaction_id" json:"original_transaction_id"`
	RefundTransactionID   *uuid.UUID      `db:"refund_transaction_id" json:"refund_transaction_id,omitempty"`
	UserID                uuid.UUID       `db:"user_id" json:"user_id"`
	OrderID               *uuid.UUID      `db:"order_id" json:"order_id,omitempty"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	Reason                string          `db:"reason" json:"reason"`
	ReasonDescription     string          `db:"reason_description" json:"reason_description"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// ReviewInvitation создаётся при завершении заказа; сами отзывы живут
// во внешнем сервисе отзывов.
type ReviewInvitation struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OrderID        uuid.UUID `db:"order_id" json:"order_id"`
	ReviewDeadline time.Time `db:"review_deadline" json:"review_deadline"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
