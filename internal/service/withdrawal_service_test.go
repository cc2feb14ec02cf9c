package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
	"github.com/gigwork/settlement-backend/internal/repository"
)

type mockWithdrawalStore struct {
	mock.Mock
}

func (m *mockWithdrawalStore) Create(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

func (m *mockWithdrawalStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

func (m *mockWithdrawalStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Withdrawal), args.Error(1)
}

func (m *mockWithdrawalStore) Reject(ctx context.Context, id uuid.UUID, reason string) (*models.Withdrawal, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

func (m *mockWithdrawalStore) CreateBatch(ctx context.Context, provider string, limit int) (*models.PayoutBatch, error) {
	args := m.Called(ctx, provider, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PayoutBatch), args.Error(1)
}

func (m *mockWithdrawalStore) StampBatchProcessing(ctx context.Context, batchID uuid.UUID) error {
	args := m.Called(ctx, batchID)
	return args.Error(0)
}

func (m *mockWithdrawalStore) CompleteBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PayoutBatch), args.Error(1)
}

func (m *mockWithdrawalStore) FailBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PayoutBatch), args.Error(1)
}

func newTestWithdrawalService(withdrawals *mockWithdrawalStore) *WithdrawalService {
	return NewWithdrawalService(withdrawals, decimal.NewFromInt(5), decimal.NewFromInt(50))
}

func TestWithdrawalService_RequestWithdrawal_FeeMath(t *testing.T) {
	withdrawals := new(mockWithdrawalStore)
	svc := newTestWithdrawalService(withdrawals)
	ctx := context.Background()
	freelancer := activeFreelancer()

	// 5% от 333.33 = 16.6665 округляется до 16.67
	withdrawals.On("Create", ctx, mock.MatchedBy(func(w *models.Withdrawal) bool {
		return w.UserID == freelancer.ID &&
			w.Amount.Equal(decimal.RequireFromString("333.33")) &&
			w.Fee.Equal(decimal.RequireFromString("16.67"))
	})).Return(&models.Withdrawal{Status: models.WithdrawalStatusPending}, nil)

	withdrawal, err := svc.RequestWithdrawal(ctx, freelancer, RequestWithdrawalInput{
		Amount:      decimal.RequireFromString("333.33"),
		Method:      "bank_transfer",
		Account:     "40817810000000000001",
		AccountName: "Иван Иванов",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusPending, withdrawal.Status)
	withdrawals.AssertExpectations(t)
}

func TestWithdrawalService_RequestWithdrawal_BelowMinimum(t *testing.T) {
	svc := newTestWithdrawalService(new(mockWithdrawalStore))

	_, err := svc.RequestWithdrawal(context.Background(), activeFreelancer(), RequestWithdrawalInput{
		Amount:  decimal.NewFromInt(49),
		Method:  "bank_transfer",
		Account: "40817810000000000001",
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestWithdrawalService_RequestWithdrawal_MissingAccount(t *testing.T) {
	svc := newTestWithdrawalService(new(mockWithdrawalStore))

	_, err := svc.RequestWithdrawal(context.Background(), activeFreelancer(), RequestWithdrawalInput{
		Amount: decimal.NewFromInt(100),
		Method: "bank_transfer",
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestWithdrawalService_RequestWithdrawal_InsufficientFunds(t *testing.T) {
	withdrawals := new(mockWithdrawalStore)
	svc := newTestWithdrawalService(withdrawals)
	ctx := context.Background()

	withdrawals.On("Create", ctx, mock.Anything).Return(nil, repository.ErrInsufficientFunds)

	_, err := svc.RequestWithdrawal(ctx, activeFreelancer(), RequestWithdrawalInput{
		Amount:  decimal.NewFromInt(100),
		Method:  "bank_transfer",
		Account: "40817810000000000001",
	})
	assert.True(t, apperror.IsInsufficientFunds(err))
}

func TestWithdrawalService_RejectWithdrawal_AdminOnly(t *testing.T) {
	withdrawals := new(mockWithdrawalStore)
	svc := newTestWithdrawalService(withdrawals)
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.RejectWithdrawal(ctx, activeFreelancer(), id, "подозрительные реквизиты")
	assert.True(t, apperror.IsForbidden(err))

	_, err = svc.RejectWithdrawal(ctx, activeAdmin(), id, "")
	assert.True(t, apperror.IsValidation(err))

	withdrawals.On("Reject", ctx, id, "подозрительные реквизиты").
		Return(&models.Withdrawal{ID: id, Status: models.WithdrawalStatusRejected}, nil)
	rejected, err := svc.RejectWithdrawal(ctx, activeAdmin(), id, "подозрительные реквизиты")
	assert.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusRejected, rejected.Status)
}

func TestWithdrawalService_CreatePayoutBatch(t *testing.T) {
	withdrawals := new(mockWithdrawalStore)
	svc := newTestWithdrawalService(withdrawals)
	ctx := context.Background()

	batchID := uuid.New()
	withdrawals.On("CreateBatch", ctx, "midtrans", 100).Return(&models.PayoutBatch{
		ID:               batchID,
		Status:           models.PayoutBatchStatusProcessing,
		TotalWithdrawals: 3,
	}, nil)
	withdrawals.On("StampBatchProcessing", ctx, batchID).Return(nil)

	// лимит вне диапазона нормализуется к 100
	batch, err := svc.CreatePayoutBatch(ctx, activeAdmin(), "midtrans", 0)
	assert.NoError(t, err)
	assert.Equal(t, 3, batch.TotalWithdrawals)
	withdrawals.AssertExpectations(t)
}

func TestWithdrawalService_CreatePayoutBatch_EmptyQueue(t *testing.T) {
	withdrawals := new(mockWithdrawalStore)
	svc := newTestWithdrawalService(withdrawals)
	ctx := context.Background()

	withdrawals.On("CreateBatch", ctx, "midtrans", 100).Return(nil, repository.ErrWithdrawalNotFound)

	_, err := svc.CreatePayoutBatch(ctx, activeAdmin(), "midtrans", 100)
	assert.True(t, apperror.IsNotFound(err))
}

func TestWithdrawalService_BatchLifecycle_AdminOnly(t *testing.T) {
	svc := newTestWithdrawalService(new(mockWithdrawalStore))
	ctx := context.Background()

	_, err := svc.CreatePayoutBatch(ctx, activeFreelancer(), "midtrans", 100)
	assert.True(t, apperror.IsForbidden(err))

	_, err = svc.CompletePayoutBatch(ctx, activeFreelancer(), uuid.New())
	assert.True(t, apperror.IsForbidden(err))

	_, err = svc.FailPayoutBatch(ctx, activeFreelancer(), uuid.New())
	assert.True(t, apperror.IsForbidden(err))
}
