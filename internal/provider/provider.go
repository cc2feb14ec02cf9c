package provider

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeRequest — запрос списания во внешний платёжный провайдер.
type ChargeRequest struct {
	OrderNumber   string
	TransactionID string
	CustomerID    uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Description   string
}

// ChargeResult — результат успешного списания.
type ChargeResult struct {
	ProviderTransactionID string
	RawResponse           json.RawMessage
}

// PaymentProvider абстрагирует внешний платёжный шлюз.
// Реализация обязана уважать контекст: просроченный запрос возвращает ошибку,
// а заказ остаётся неоплаченным.
type PaymentProvider interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
