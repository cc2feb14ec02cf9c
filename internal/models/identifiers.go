package models

import (
	"fmt"
	"math/rand"
	"time"
)

// Префиксы внешних идентификаторов
const (
	OrderNumberPrefix   = "ORD"
	TransactionIDPrefix = "TXN"
	PayoutBatchPrefix   = "PAY"
)

const identifierTimeLayout = "20060102150405"

// generateIdentifier собирает идентификатор вида <PREFIX><timestamp><4 случайные цифры>.
// Уникальность обеспечивает база; при коллизии репозиторий генерирует заново.
func generateIdentifier(prefix string, now time.Time) string {
	return fmt.Sprintf("%s%s%04d", prefix, now.Format(identifierTimeLayout), rand.Intn(9000)+1000)
}

// NewOrderNumber возвращает новый номер заказа.
func NewOrderNumber() string {
	return generateIdentifier(OrderNumberPrefix, time.Now())
}

// NewTransactionID возвращает новый номер транзакции.
func NewTransactionID() string {
	return generateIdentifier(TransactionIDPrefix, time.Now())
}

// NewPayoutBatchID возвращает новый номер батча выплат.
func NewPayoutBatchID() string {
	return generateIdentifier(PayoutBatchPrefix, time.Now())
}
