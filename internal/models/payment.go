package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы escrow
const (
	EscrowStatusPending  = "pending"
	EscrowStatusFunded   = "funded"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
	EscrowStatusDisputed = "disputed"
)

// Типы транзакций
const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypePayment    = "payment"
	TransactionTypeRefund     = "refund"
	TransactionTypePayout     = "payout"
	TransactionTypeFee        = "fee"
	TransactionTypeBonus      = "bonus"
	TransactionTypePenalty    = "penalty"
)

// Статусы транзакций
const (
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusCancelled  = "cancelled"
	TransactionStatusReversed   = "reversed"
)

// Платёжные провайдеры
const (
	ProviderWallet   = "wallet"
	ProviderMidtrans = "midtrans"
)

// MoneyPrecision — число знаков после запятой для всех денежных сумм.
const MoneyPrecision = 2

// Wallet представляет кошелёк пользователя.
// Поля меняются только четырьмя примитивами бухгалтерии, прямых мутаций нет.
type Wallet struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	UserID        uuid.UUID       `db:"user_id" json:"user_id"`
	Balance       decimal.Decimal `db:"balance" json:"balance"`
	FrozenBalance decimal.Decimal `db:"frozen_balance" json:"frozen_balance"`
	TotalEarned   decimal.Decimal `db:"total_earned" json:"total_earned"`
	TotalSpent    decimal.Decimal `db:"total_spent" json:"total_spent"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// HasSufficientBalance проверяет, хватает ли свободных средств.
func (w *Wallet) HasSufficientBalance(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// HasSufficientFrozen проверяет, хватает ли замороженных средств.
func (w *Wallet) HasSufficientFrozen(amount decimal.Decimal) bool {
	return w.FrozenBalance.GreaterThanOrEqual(amount)
}

// Transaction представляет неизменяемую запись журнала движения денег.
// Статус движется только вперёд: pending -> processing -> completed,
// failed достижим из любого нефинального, reversed — только из completed.
type Transaction struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	TransactionID         string          `db:"transaction_id" json:"transaction_id"`
	UserID                uuid.UUID       `db:"user_id" json:"user_id"`
	OrderID               *uuid.UUID      `db:"order_id" json:"order_id,omitempty"`
	TransactionType       string          `db:"transaction_type" json:"transaction_type"`
	Status                string          `db:"status" json:"status"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	Currency              string          `db:"currency" json:"currency"`
	Fee                   decimal.Decimal `db:"fee" json:"fee"`
	NetAmount             decimal.Decimal `db:"net_amount" json:"net_amount"`
	Provider              string          `db:"provider" json:"provider"`
	ProviderTransactionID *string         `db:"provider_transaction_id" json:"provider_transaction_id,omitempty"`
	ProviderResponse      json.RawMessage `db:"provider_response" json:"provider_response,omitempty"`
	Description           string          `db:"description" json:"description"`
	Notes                 *string         `db:"notes" json:"notes,omitempty"`
	ProcessedAt           *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CompletedAt           *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// IsTerminalTransactionStatus сообщает, финален ли статус транзакции.
func IsTerminalTransactionStatus(status string) bool {
	switch status {
	case TransactionStatusCompleted, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusReversed:
		return true
	}
	return false
}

// Escrow держит средства одного заказа между оплатой и выплатой/возвратом.
type Escrow struct {
	ID                      uuid.UUID       `db:"id" json:"id"`
	OrderID                 uuid.UUID       `db:"order_id" json:"order_id"`
	ClientID                uuid.UUID       `db:"client_id" json:"client_id"`
	FreelancerID            uuid.UUID       `db:"freelancer_id" json:"freelancer_id"`
	TotalAmount             decimal.Decimal `db:"total_amount" json:"total_amount"`
	PlatformFee             decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	FreelancerAmount        decimal.Decimal `db:"freelancer_amount" json:"freelancer_amount"`
	Status                  string          `db:"status" json:"status"`
	FundingTransactionID    *uuid.UUID      `db:"funding_transaction_id" json:"funding_transaction_id,omitempty"`
	ReleaseTransactionID    *uuid.UUID      `db:"release_transaction_id" json:"release_transaction_id,omitempty"`
	FundedAt                *time.Time      `db:"funded_at" json:"funded_at,omitempty"`
	ReleasedAt              *time.Time      `db:"released_at" json:"released_at,omitempty"`
	RefundedAt              *time.Time      `db:"refunded_at" json:"refunded_at,omitempty"`
	AutoReleaseDate         *time.Time      `db:"auto_release_date" json:"auto_release_date,omitempty"`
	IsManualReleaseRequired bool            `db:"is_manual_release_required" json:"is_manual_release_required"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
}

// IsSettleable сообщает, можно ли выплатить или вернуть средства.
func (e *Escrow) IsSettleable() bool {
	return e.Status == EscrowStatusFunded || e.Status == EscrowStatusDisputed
}

// IsEligibleForAutoRelease проверяет условия автоматической выплаты:
// срок истёк, спора нет, ручное подтверждение не требуется.
func (e *Escrow) IsEligibleForAutoRelease(now time.Time) bool {
	if e.Status != EscrowStatusFunded || e.IsManualReleaseRequired {
		return false
	}
	return e.AutoReleaseDate != nil && now.After(*e.AutoReleaseDate)
}

// EscrowSplit описывает распределение средств escrow при закрытии.
// Linear-split политика: комиссия платформы берётся пропорционально выплаченной доле,
// поэтому при полной выплате FeeShare == PlatformFee и NetToFreelancer == FreelancerAmount.
type EscrowSplit struct {
	GrossToFreelancer decimal.Decimal
	FeeShare          decimal.Decimal
	NetToFreelancer   decimal.Decimal
	RefundToClient    decimal.Decimal
}

// SplitEscrowAmount распределяет сумму escrow: gross уходит стороне фрилансера
// (за вычетом пропорциональной комиссии), остальное возвращается клиенту.
// Требование: 0 <= gross <= e.TotalAmount.
func (e *Escrow) SplitEscrowAmount(gross decimal.Decimal) EscrowSplit {
	var fee decimal.Decimal
	if e.TotalAmount.IsPositive() {
		fee = e.PlatformFee.Mul(gross).Div(e.TotalAmount).Round(MoneyPrecision)
	}
	return EscrowSplit{
		GrossToFreelancer: gross,
		FeeShare:          fee,
		NetToFreelancer:   gross.Sub(fee),
		RefundToClient:    e.TotalAmount.Sub(gross),
	}
}
