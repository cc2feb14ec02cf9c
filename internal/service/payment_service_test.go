package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gigwork/settlement-backend/internal/logger"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
	"github.com/gigwork/settlement-backend/internal/provider"
	"github.com/gigwork/settlement-backend/internal/repository"
)

func TestMain(m *testing.M) {
	logger.Init("panic")
	os.Exit(m.Run())
}

type mockWalletRepo struct {
	mock.Mock
}

func (m *mockWalletRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *mockWalletRepo) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, provider, description string) (*models.Transaction, error) {
	args := m.Called(ctx, userID, amount, provider, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

type mockTransactionRepo struct {
	mock.Mock
}

func (m *mockTransactionRepo) Create(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	args := m.Called(ctx, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) Process(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) Fail(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) Reverse(ctx context.Context, id uuid.UUID, reason, notes string) (*models.Transaction, error) {
	args := m.Called(ctx, id, reason, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

type mockEscrowRepo struct {
	mockEscrowStore
}

func (m *mockEscrowRepo) FundWithWallet(ctx context.Context, orderID uuid.UUID, changedByID *uuid.UUID, autoReleaseWindow time.Duration) (*models.Escrow, *models.Transaction, error) {
	args := m.Called(ctx, orderID, changedByID, autoReleaseWindow)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Escrow), args.Get(1).(*models.Transaction), args.Error(2)
}

func (m *mockEscrowRepo) FundWithProvider(ctx context.Context, orderID, transactionID uuid.UUID, changedByID *uuid.UUID, providerTransactionID *string, providerResponse json.RawMessage, autoReleaseWindow time.Duration) (*models.Escrow, *models.Transaction, error) {
	args := m.Called(ctx, orderID, transactionID, changedByID, providerTransactionID, providerResponse, autoReleaseWindow)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Escrow), args.Get(1).(*models.Transaction), args.Error(2)
}

func (m *mockEscrowRepo) ListEligibleForAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]models.Escrow), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string {
	return "midtrans"
}

func (m *mockGateway) Charge(ctx context.Context, req provider.ChargeRequest) (*provider.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.ChargeResult), args.Error(1)
}

func newTestPaymentService(wallets *mockWalletRepo, transactions *mockTransactionRepo, escrow *mockEscrowRepo, orders *mockOrderRepo, gateway *mockGateway) *PaymentService {
	return NewPaymentService(wallets, transactions, escrow, orders, gateway, stubPublisher{},
		5*time.Second, 7*24*time.Hour, 14*24*time.Hour)
}

func pendingOrder(clientID uuid.UUID) *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD202501150930121234",
		ClientID:    clientID,
		Title:       "Логотип",
		TotalPrice:  decimal.NewFromInt(150),
		Status:      models.OrderStatusPending,
	}
}

func TestPaymentService_Deposit_RejectsNonPositive(t *testing.T) {
	wallets := new(mockWalletRepo)
	svc := newTestPaymentService(wallets, new(mockTransactionRepo), new(mockEscrowRepo), new(mockOrderRepo), new(mockGateway))

	_, err := svc.Deposit(context.Background(), activeClient(), decimal.Zero)
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Deposit(context.Background(), activeClient(), decimal.NewFromInt(-10))
	assert.True(t, apperror.IsValidation(err))

	wallets.AssertNotCalled(t, "Deposit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_Deposit_CreditsWallet(t *testing.T) {
	wallets := new(mockWalletRepo)
	svc := newTestPaymentService(wallets, new(mockTransactionRepo), new(mockEscrowRepo), new(mockOrderRepo), new(mockGateway))
	ctx := context.Background()
	client := activeClient()
	amount := decimal.RequireFromString("250.50")

	wallets.On("Deposit", ctx, client.ID, amount, models.ProviderWallet, "Пополнение баланса").
		Return(&models.Transaction{Amount: amount, Status: models.TransactionStatusCompleted}, nil)

	transaction, err := svc.Deposit(ctx, client, amount)
	assert.NoError(t, err)
	assert.True(t, transaction.Amount.Equal(amount))
	wallets.AssertExpectations(t)
}

func TestPaymentService_PayOrder_WithWallet(t *testing.T) {
	orders := new(mockOrderRepo)
	escrow := new(mockEscrowRepo)
	svc := newTestPaymentService(new(mockWalletRepo), new(mockTransactionRepo), escrow, orders, new(mockGateway))
	ctx := context.Background()
	client := activeClient()
	order := pendingOrder(client.ID)

	orders.On("GetByID", ctx, order.ID).Return(order, nil)
	escrow.On("FundWithWallet", ctx, order.ID, &client.ID, 7*24*time.Hour).
		Return(
			&models.Escrow{OrderID: order.ID, TotalAmount: order.TotalPrice, Status: models.EscrowStatusFunded},
			&models.Transaction{TransactionType: models.TransactionTypePayment, Status: models.TransactionStatusCompleted},
			nil,
		)

	fundedEscrow, transaction, err := svc.PayOrder(ctx, client, order.ID, models.ProviderWallet)
	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, fundedEscrow.Status)
	assert.Equal(t, models.TransactionStatusCompleted, transaction.Status)
	escrow.AssertExpectations(t)
}

func TestPaymentService_PayOrder_InsufficientFunds(t *testing.T) {
	orders := new(mockOrderRepo)
	escrow := new(mockEscrowRepo)
	svc := newTestPaymentService(new(mockWalletRepo), new(mockTransactionRepo), escrow, orders, new(mockGateway))
	ctx := context.Background()
	client := activeClient()
	order := pendingOrder(client.ID)

	orders.On("GetByID", ctx, order.ID).Return(order, nil)
	escrow.On("FundWithWallet", ctx, order.ID, &client.ID, mock.Anything).
		Return(nil, nil, repository.ErrInsufficientFunds)

	_, _, err := svc.PayOrder(ctx, client, order.ID, models.ProviderWallet)
	assert.True(t, apperror.IsInsufficientFunds(err))
}

func TestPaymentService_PayOrder_OnlyClientPays(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestPaymentService(new(mockWalletRepo), new(mockTransactionRepo), new(mockEscrowRepo), orders, new(mockGateway))
	ctx := context.Background()
	order := pendingOrder(uuid.New())
	outsider := activeClient()

	orders.On("GetByID", ctx, order.ID).Return(order, nil)

	_, _, err := svc.PayOrder(ctx, outsider, order.ID, models.ProviderWallet)
	assert.True(t, apperror.IsForbidden(err))
}

func TestPaymentService_PayOrder_SuspendedActor(t *testing.T) {
	svc := newTestPaymentService(new(mockWalletRepo), new(mockTransactionRepo), new(mockEscrowRepo), new(mockOrderRepo), new(mockGateway))
	suspended := &models.Actor{ID: uuid.New(), UserType: models.UserTypeClient, Status: models.UserStatusSuspended}

	_, _, err := svc.PayOrder(context.Background(), suspended, uuid.New(), models.ProviderWallet)
	assert.True(t, apperror.IsForbidden(err))
}

func TestPaymentService_PayOrder_AlreadyPaid(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestPaymentService(new(mockWalletRepo), new(mockTransactionRepo), new(mockEscrowRepo), orders, new(mockGateway))
	ctx := context.Background()
	client := activeClient()
	order := pendingOrder(client.ID)
	order.Status = models.OrderStatusPaid

	orders.On("GetByID", ctx, order.ID).Return(order, nil)

	_, _, err := svc.PayOrder(ctx, client, order.ID, models.ProviderWallet)
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestPaymentService_PayOrder_UnknownMethod(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestPaymentService(new(mockWalletRepo), new(mockTransactionRepo), new(mockEscrowRepo), orders, new(mockGateway))
	ctx := context.Background()
	client := activeClient()
	order := pendingOrder(client.ID)

	orders.On("GetByID", ctx, order.ID).Return(order, nil)

	_, _, err := svc.PayOrder(ctx, client, order.ID, "cash")
	assert.True(t, apperror.IsValidation(err))
}

func TestPaymentService_PayOrder_ViaProvider(t *testing.T) {
	orders := new(mockOrderRepo)
	transactions := new(mockTransactionRepo)
	escrow := new(mockEscrowRepo)
	gateway := new(mockGateway)
	svc := newTestPaymentService(new(mockWalletRepo), transactions, escrow, orders, gateway)
	ctx := context.Background()
	client := activeClient()
	order := pendingOrder(client.ID)

	pendingTx := &models.Transaction{
		ID:            uuid.New(),
		TransactionID: "TXN202501150931009876",
		Status:        models.TransactionStatusPending,
	}
	processingTx := &models.Transaction{
		ID:            pendingTx.ID,
		TransactionID: pendingTx.TransactionID,
		Status:        models.TransactionStatusProcessing,
	}
	providerTxID := "midtrans-abc-123"
	rawResponse := json.RawMessage(`{"transaction_status":"capture"}`)

	orders.On("GetByID", ctx, order.ID).Return(order, nil)
	transactions.On("Create", ctx, mock.MatchedBy(func(tx *models.Transaction) bool {
		return tx.UserID == client.ID &&
			tx.OrderID != nil && *tx.OrderID == order.ID &&
			tx.TransactionType == models.TransactionTypePayment &&
			tx.Amount.Equal(order.TotalPrice) &&
			tx.Provider == "midtrans" &&
			tx.Description == "Оплата заказа "+order.OrderNumber
	})).Return(pendingTx, nil)
	transactions.On("Process", ctx, pendingTx.ID).Return(processingTx, nil)
	gateway.On("Charge", mock.Anything, mock.MatchedBy(func(req provider.ChargeRequest) bool {
		return req.OrderNumber == order.OrderNumber &&
			req.TransactionID == pendingTx.TransactionID &&
			req.CustomerID == client.ID &&
			req.Amount.Equal(order.TotalPrice)
	})).Return(&provider.ChargeResult{ProviderTransactionID: providerTxID, RawResponse: rawResponse}, nil)
	escrow.On("FundWithProvider", ctx, order.ID, pendingTx.ID, &client.ID, &providerTxID, rawResponse, 7*24*time.Hour).
		Return(
			&models.Escrow{OrderID: order.ID, TotalAmount: order.TotalPrice, Status: models.EscrowStatusFunded},
			&models.Transaction{Status: models.TransactionStatusCompleted},
			nil,
		)

	fundedEscrow, _, err := svc.PayOrder(ctx, client, order.ID, "midtrans")
	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, fundedEscrow.Status)
	transactions.AssertExpectations(t)
	gateway.AssertExpectations(t)
	escrow.AssertExpectations(t)
}

func TestPaymentService_PayOrder_ProviderFailureLeavesOrderPending(t *testing.T) {
	orders := new(mockOrderRepo)
	transactions := new(mockTransactionRepo)
	escrow := new(mockEscrowRepo)
	gateway := new(mockGateway)
	svc := newTestPaymentService(new(mockWalletRepo), transactions, escrow, orders, gateway)
	ctx := context.Background()
	client := activeClient()
	order := pendingOrder(client.ID)

	pendingTx := &models.Transaction{ID: uuid.New(), TransactionID: "TXN202501150931009876"}

	orders.On("GetByID", ctx, order.ID).Return(order, nil)
	transactions.On("Create", ctx, mock.Anything).Return(pendingTx, nil)
	transactions.On("Process", ctx, pendingTx.ID).
		Return(&models.Transaction{ID: pendingTx.ID, TransactionID: pendingTx.TransactionID, Status: models.TransactionStatusProcessing}, nil)
	gateway.On("Charge", mock.Anything, mock.Anything).Return(nil, errors.New("card declined"))
	transactions.On("Fail", ctx, pendingTx.ID, "card declined").
		Return(&models.Transaction{ID: pendingTx.ID, Status: models.TransactionStatusFailed}, nil)

	_, _, err := svc.PayOrder(ctx, client, order.ID, "midtrans")

	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeProvider, appErr.Code)
	// escrow не тронут: заказ остаётся pending, оплату можно повторить
	escrow.AssertNotCalled(t, "FundWithProvider",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	transactions.AssertExpectations(t)
}

func TestPaymentService_ReleaseEligibleEscrows_ContinuesPastFailures(t *testing.T) {
	escrow := new(mockEscrowRepo)
	svc := newTestPaymentService(new(mockWalletRepo), new(mockTransactionRepo), escrow, new(mockOrderRepo), new(mockGateway))
	ctx := context.Background()
	now := time.Now()

	broken := models.Escrow{OrderID: uuid.New(), TotalAmount: decimal.NewFromInt(100), Status: models.EscrowStatusFunded}
	healthy := models.Escrow{OrderID: uuid.New(), TotalAmount: decimal.NewFromInt(350), Status: models.EscrowStatusFunded}

	escrow.On("ListEligibleForAutoRelease", ctx, now, 50).Return([]models.Escrow{broken, healthy}, nil)
	escrow.On("Settle", ctx, mock.MatchedBy(func(params repository.SettleParams) bool {
		return params.OrderID == broken.OrderID
	})).Return(nil, nil, repository.ErrOrderStateConflict)
	escrow.On("Settle", ctx, mock.MatchedBy(func(params repository.SettleParams) bool {
		return params.OrderID == healthy.OrderID &&
			params.GrossToFreelancer.Equal(healthy.TotalAmount) &&
			params.EscrowStatus == models.EscrowStatusReleased &&
			params.OrderFrom == models.OrderStatusDelivered &&
			params.OrderTo == models.OrderStatusCompleted &&
			params.ReviewDeadline != nil
	})).Return(
		&models.Order{ID: healthy.OrderID, Status: models.OrderStatusCompleted},
		&models.Escrow{OrderID: healthy.OrderID, Status: models.EscrowStatusReleased},
		nil,
	)

	released, err := svc.ReleaseEligibleEscrows(ctx, now, 50)
	assert.NoError(t, err)
	assert.Equal(t, 1, released)
	escrow.AssertExpectations(t)
}

func TestPaymentService_GetEscrow_OutsiderForbidden(t *testing.T) {
	orders := new(mockOrderRepo)
	escrow := new(mockEscrowRepo)
	svc := newTestPaymentService(new(mockWalletRepo), new(mockTransactionRepo), escrow, orders, new(mockGateway))
	ctx := context.Background()
	order := pendingOrder(uuid.New())
	order.FreelancerID = uuid.New()
	outsider := activeClient()

	orders.On("GetByID", ctx, order.ID).Return(order, nil)

	_, err := svc.GetEscrow(ctx, outsider, order.ID)
	assert.True(t, apperror.IsForbidden(err))
	escrow.AssertNotCalled(t, "GetByOrderID", mock.Anything, mock.Anything)
}

func TestPaymentService_ReverseTransaction_CreatesCompensatingRefund(t *testing.T) {
	transactions := new(mockTransactionRepo)
	svc := newTestPaymentService(new(mockWalletRepo), transactions, new(mockEscrowRepo), new(mockOrderRepo), new(mockGateway))
	ctx := context.Background()
	admin := activeAdmin()

	original := &models.Transaction{
		ID:            uuid.New(),
		TransactionID: "TXN202501150931009876",
		Status:        models.TransactionStatusCompleted,
		Amount:        decimal.NewFromInt(500),
	}
	refund := &models.Transaction{
		ID:              uuid.New(),
		TransactionType: models.TransactionTypeRefund,
		Status:          models.TransactionStatusCompleted,
		Amount:          original.Amount,
	}

	transactions.On("GetByTransactionID", ctx, original.TransactionID).Return(original, nil)
	// пустая причина подменяется причиной по умолчанию
	transactions.On("Reverse", ctx, original.ID, models.RefundReasonReversal, "ошибочное списание").Return(refund, nil)

	got, err := svc.ReverseTransaction(ctx, admin, original.TransactionID, "", "ошибочное списание")

	assert.NoError(t, err)
	assert.Equal(t, refund, got)
	transactions.AssertExpectations(t)
}

func TestPaymentService_ReverseTransaction_RepeatedReverseConflicts(t *testing.T) {
	// гонка двух отмен: вторая натыкается на финальный статус в БД
	transactions := new(mockTransactionRepo)
	svc := newTestPaymentService(new(mockWalletRepo), transactions, new(mockEscrowRepo), new(mockOrderRepo), new(mockGateway))
	ctx := context.Background()

	original := &models.Transaction{
		ID:            uuid.New(),
		TransactionID: "TXN202501150931009876",
		Status:        models.TransactionStatusCompleted,
	}
	transactions.On("GetByTransactionID", ctx, original.TransactionID).Return(original, nil)
	transactions.On("Reverse", ctx, original.ID, models.RefundReasonError, "").
		Return(nil, repository.ErrTransactionState)

	_, err := svc.ReverseTransaction(ctx, activeAdmin(), original.TransactionID, models.RefundReasonError, "")
	assert.True(t, apperror.IsConflict(err))
}

func TestPaymentService_ReverseTransaction_RequiresAdmin(t *testing.T) {
	transactions := new(mockTransactionRepo)
	svc := newTestPaymentService(new(mockWalletRepo), transactions, new(mockEscrowRepo), new(mockOrderRepo), new(mockGateway))

	_, err := svc.ReverseTransaction(context.Background(), activeClient(), "TXN202501150931009876", "", "подозрение на фрод")

	assert.True(t, apperror.IsForbidden(err))
	transactions.AssertNotCalled(t, "GetByTransactionID", mock.Anything, mock.Anything)
}

func TestPaymentService_ReverseTransaction_OnlyCompletedReversible(t *testing.T) {
	// уже отменённую или не завершённую транзакцию отменить нельзя,
	// повторная отмена не даёт второго зачисления
	for _, status := range []string{
		models.TransactionStatusPending,
		models.TransactionStatusProcessing,
		models.TransactionStatusReversed,
	} {
		transactions := new(mockTransactionRepo)
		svc := newTestPaymentService(new(mockWalletRepo), transactions, new(mockEscrowRepo), new(mockOrderRepo), new(mockGateway))
		ctx := context.Background()

		original := &models.Transaction{ID: uuid.New(), TransactionID: "TXN202501150931009876", Status: status}
		transactions.On("GetByTransactionID", ctx, original.TransactionID).Return(original, nil)

		_, err := svc.ReverseTransaction(ctx, activeAdmin(), original.TransactionID, models.RefundReasonError, "")

		assert.True(t, apperror.IsConflict(err), status)
		transactions.AssertNotCalled(t, "Reverse", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}
