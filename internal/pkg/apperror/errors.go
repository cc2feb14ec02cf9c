package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeProvider          ErrorCode = "PROVIDER_ERROR"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError     ErrorCode = "DATABASE_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is позволяет сверять обёрнутые ошибки с сентинелами через errors.Is.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if !errors.As(target, &appErr) {
		return false
	}
	return e.Code == appErr.Code && e.Message == appErr.Message
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeValidation, ErrCodeInvalidTransition, ErrCodeInsufficientFunds:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeForbidden
}

func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeValidation
}

func IsInvalidTransition(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInvalidTransition
}

func IsInsufficientFunds(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInsufficientFunds
}

func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeConflict
}

var (
	ErrOrderNotFound       = New(ErrCodeNotFound, "заказ не найден")
	ErrEscrowNotFound      = New(ErrCodeNotFound, "escrow не найден")
	ErrTransactionNotFound = New(ErrCodeNotFound, "транзакция не найдена")
	ErrWalletNotFound      = New(ErrCodeNotFound, "кошелёк не найден")
	ErrDeliveryNotFound    = New(ErrCodeNotFound, "сдача работы не найдена")
	ErrDisputeNotFound     = New(ErrCodeNotFound, "спор не найден")
	ErrWithdrawalNotFound  = New(ErrCodeNotFound, "заявка на вывод не найдена")
	ErrUserNotFound        = New(ErrCodeNotFound, "пользователь не найден")
	ErrUnauthorized        = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden           = New(ErrCodeForbidden, "недостаточно прав")
	ErrInvalidTransition   = New(ErrCodeInvalidTransition, "недопустимый переход статуса")
	ErrInsufficientFunds   = New(ErrCodeInsufficientFunds, "недостаточно средств")
	ErrConflict            = New(ErrCodeConflict, "конфликт одновременного изменения, повторите запрос")
)
