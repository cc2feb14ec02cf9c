package service

import (
	"errors"

	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
	"github.com/gigwork/settlement-backend/internal/repository"
	"github.com/gigwork/settlement-backend/internal/repository/common"
)

// translateRepositoryError переводит сентинелы репозиториев в типизированные
// ошибки приложения. Неизвестные ошибки уходят наверх как есть.
func translateRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrOrderNotFound):
		return apperror.ErrOrderNotFound
	case errors.Is(err, repository.ErrEscrowNotFound):
		return apperror.ErrEscrowNotFound
	case errors.Is(err, repository.ErrTransactionNotFound):
		return apperror.ErrTransactionNotFound
	case errors.Is(err, repository.ErrWalletNotFound):
		return apperror.ErrWalletNotFound
	case errors.Is(err, repository.ErrDeliveryNotFound):
		return apperror.ErrDeliveryNotFound
	case errors.Is(err, repository.ErrDisputeNotFound):
		return apperror.ErrDisputeNotFound
	case errors.Is(err, repository.ErrWithdrawalNotFound):
		return apperror.ErrWithdrawalNotFound
	case errors.Is(err, repository.ErrPayoutBatchNotFound):
		return apperror.New(apperror.ErrCodeNotFound, "батч выплат не найден")
	case errors.Is(err, repository.ErrUserNotFound):
		return apperror.ErrUserNotFound
	case errors.Is(err, repository.ErrInsufficientFunds),
		errors.Is(err, repository.ErrInsufficientFrozenFunds):
		return apperror.ErrInsufficientFunds
	case errors.Is(err, repository.ErrOrderStateConflict):
		return apperror.ErrConflict
	case errors.Is(err, repository.ErrDisputeAlreadyOpen):
		return apperror.New(apperror.ErrCodeConflict, "по заказу уже открыт спор")
	case errors.Is(err, repository.ErrDisputeClosed):
		return apperror.New(apperror.ErrCodeConflict, "спор уже разрешён")
	case errors.Is(err, repository.ErrDeliveryDecided):
		return apperror.New(apperror.ErrCodeConflict, "по сдаче уже принято решение")
	case errors.Is(err, repository.ErrEscrowState):
		return apperror.New(apperror.ErrCodeConflict, "escrow находится в другом состоянии")
	case errors.Is(err, repository.ErrTransactionState):
		return apperror.New(apperror.ErrCodeConflict, "транзакция находится в финальном состоянии")
	case errors.Is(err, repository.ErrWithdrawalState):
		return apperror.New(apperror.ErrCodeConflict, "заявка на вывод находится в другом состоянии")
	case errors.Is(err, common.ErrInvalidInput):
		return apperror.Wrap(err, apperror.ErrCodeValidation, "некорректные данные запроса")
	default:
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "внутренняя ошибка хранилища")
	}
}

// defaultLimit нормализует параметры пагинации.
func defaultLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
