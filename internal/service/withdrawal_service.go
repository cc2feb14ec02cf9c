package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
	"github.com/gigwork/settlement-backend/internal/repository"
)

type WithdrawalStore interface {
	Create(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (*models.Withdrawal, error)
	CreateBatch(ctx context.Context, provider string, limit int) (*models.PayoutBatch, error)
	StampBatchProcessing(ctx context.Context, batchID uuid.UUID) error
	CompleteBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error)
	FailBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error)
}

type WithdrawalService struct {
	withdrawals WithdrawalStore

	feePercent decimal.Decimal
	minAmount  decimal.Decimal
}

func NewWithdrawalService(withdrawals WithdrawalStore, feePercent, minAmount decimal.Decimal) *WithdrawalService {
	return &WithdrawalService{
		withdrawals: withdrawals,
		feePercent:  feePercent,
		minAmount:   minAmount,
	}
}

type RequestWithdrawalInput struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Account     string          `json:"account"`
	AccountName string          `json:"account_name"`
}

// RequestWithdrawal создаёт заявку на вывод. Сумма списывается с баланса
// сразу; комиссия вывода удерживается из неё.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, actor *models.Actor, input RequestWithdrawalInput) (*models.Withdrawal, error) {
	if !actor.IsActive() {
		return nil, apperror.ErrForbidden
	}
	if input.Amount.LessThan(s.minAmount) {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма меньше минимальной для вывода")
	}
	if input.Method == "" || input.Account == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "способ вывода и реквизиты обязательны")
	}

	fee := input.Amount.Mul(s.feePercent).Div(decimal.NewFromInt(100)).Round(models.MoneyPrecision)
	withdrawal, err := s.withdrawals.Create(ctx, &models.Withdrawal{
		UserID:      actor.ID,
		Amount:      input.Amount,
		Fee:         fee,
		Method:      input.Method,
		Account:     input.Account,
		AccountName: input.AccountName,
	})
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return withdrawal, nil
}

// ListWithdrawals возвращает заявки актора.
func (s *WithdrawalService) ListWithdrawals(ctx context.Context, actor *models.Actor, limit, offset int) ([]models.Withdrawal, error) {
	withdrawals, err := s.withdrawals.ListByUser(ctx, actor.ID, defaultLimit(limit), offset)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return withdrawals, nil
}

// RejectWithdrawal отклоняет заявку и возвращает деньги на баланс. Только админ.
func (s *WithdrawalService) RejectWithdrawal(ctx context.Context, actor *models.Actor, withdrawalID uuid.UUID, reason string) (*models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина отклонения обязательна")
	}
	withdrawal, err := s.withdrawals.Reject(ctx, withdrawalID, reason)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return withdrawal, nil
}

// CreatePayoutBatch собирает ожидающие заявки в батч для провайдера выплат.
func (s *WithdrawalService) CreatePayoutBatch(ctx context.Context, actor *models.Actor, provider string, limit int) (*models.PayoutBatch, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	batch, err := s.withdrawals.CreateBatch(ctx, provider, limit)
	if errors.Is(err, repository.ErrWithdrawalNotFound) {
		return nil, apperror.New(apperror.ErrCodeNotFound, "нет заявок, ожидающих выплаты")
	}
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	// батч уходит провайдеру сразу после сборки
	if err := s.withdrawals.StampBatchProcessing(ctx, batch.ID); err != nil {
		return nil, translateRepositoryError(err)
	}
	return batch, nil
}

// CompletePayoutBatch подтверждает успешную обработку батча провайдером.
func (s *WithdrawalService) CompletePayoutBatch(ctx context.Context, actor *models.Actor, batchID uuid.UUID) (*models.PayoutBatch, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	batch, err := s.withdrawals.CompleteBatch(ctx, batchID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return batch, nil
}

// FailPayoutBatch помечает батч неудачным, заявки возвращаются в очередь.
func (s *WithdrawalService) FailPayoutBatch(ctx context.Context, actor *models.Actor, batchID uuid.UUID) (*models.PayoutBatch, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	batch, err := s.withdrawals.FailBatch(ctx, batchID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return batch, nil
}
