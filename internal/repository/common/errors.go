package common

import (
	"errors"

	"github.com/lib/pq"
)

// Общие ошибки для всех репозиториев
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// uniqueViolation — код ошибки PostgreSQL для нарушения уникальности.
const uniqueViolation = "23505"

// IsUniqueViolation проверяет, вызвана ли ошибка конфликтом уникального индекса.
// Используется при генерации внешних идентификаторов (ORD/TXN/PAY) для повтора.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
