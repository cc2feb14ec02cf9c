package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gigwork/settlement-backend/internal/events"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
	"github.com/gigwork/settlement-backend/internal/repository"
)

type mockOrderRepo struct {
	mock.Mock
}

func (m *mockOrderRepo) Create(ctx context.Context, order *models.Order, extras []models.OrderExtra, requirements []string) (*models.Order, error) {
	args := m.Called(ctx, order, extras, requirements)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderRepo) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	args := m.Called(ctx, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderRepo) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to string, changedByID *uuid.UUID, notes string) (*models.Order, error) {
	args := m.Called(ctx, orderID, from, to, changedByID, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderRepo) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]models.OrderStatusHistory), args.Error(1)
}

func (m *mockOrderRepo) ListByClient(ctx context.Context, clientID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	args := m.Called(ctx, clientID, status, limit, offset)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockOrderRepo) ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	args := m.Called(ctx, freelancerID, status, limit, offset)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockOrderRepo) GetExtras(ctx context.Context, orderID uuid.UUID) ([]models.OrderExtra, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]models.OrderExtra), args.Error(1)
}

func (m *mockOrderRepo) GetRequirements(ctx context.Context, orderID uuid.UUID) ([]models.OrderRequirement, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]models.OrderRequirement), args.Error(1)
}

func (m *mockOrderRepo) ProvideRequirements(ctx context.Context, orderID uuid.UUID, responses []repository.RequirementResponse, changedByID *uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID, responses, changedByID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

type mockEscrowStore struct {
	mock.Mock
}

func (m *mockEscrowStore) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Escrow), args.Error(1)
}

func (m *mockEscrowStore) Settle(ctx context.Context, params repository.SettleParams) (*models.Order, *models.Escrow, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Order), args.Get(1).(*models.Escrow), args.Error(2)
}

type mockDeliveryStore struct {
	mock.Mock
}

func (m *mockDeliveryStore) Latest(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Delivery), args.Error(1)
}

func (m *mockDeliveryStore) Reject(ctx context.Context, deliveryID uuid.UUID, reason string, changedByID *uuid.UUID) (*models.Delivery, *models.Order, error) {
	args := m.Called(ctx, deliveryID, reason, changedByID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Delivery), args.Get(1).(*models.Order), args.Error(2)
}

type mockCancellationStore struct {
	mock.Mock
}

func (m *mockCancellationStore) Create(ctx context.Context, dispute *models.OrderDispute, orderFrom string) (*models.OrderDispute, *models.Order, error) {
	args := m.Called(ctx, dispute, orderFrom)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.OrderDispute), args.Get(1).(*models.Order), args.Error(2)
}

func (m *mockCancellationStore) CreateCancellation(ctx context.Context, cancellation *models.OrderCancellation, orderFrom string, escrowFunded bool, settle repository.SettleParams) (*models.OrderCancellation, *models.Order, error) {
	args := m.Called(ctx, cancellation, orderFrom, escrowFunded, settle)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.OrderCancellation), args.Get(1).(*models.Order), args.Error(2)
}

// stubNotifier и stubPublisher глушат асинхронные побочные эффекты.
type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, uuid.UUID, string, json.RawMessage) {}

type stubPublisher struct{}

func (stubPublisher) Publish(context.Context, events.Event) error { return nil }
func (stubPublisher) Close() error                                { return nil }

func newTestOrderService(orders *mockOrderRepo, escrow *mockEscrowStore, deliveries *mockDeliveryStore, cancellations *mockCancellationStore) *OrderService {
	return NewOrderService(orders, escrow, deliveries, cancellations, stubNotifier{}, stubPublisher{}, decimal.NewFromInt(10), 14*24*time.Hour)
}

func activeClient() *models.Actor {
	return &models.Actor{ID: uuid.New(), UserType: models.UserTypeClient, Status: models.UserStatusActive}
}

func TestOrderService_CreateOrder_FeeMath(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	ctx := context.Background()
	client := activeClient()

	orders.On("Create", ctx, mock.MatchedBy(func(o *models.Order) bool {
		return o.TotalPrice.Equal(decimal.NewFromInt(150)) &&
			o.PlatformFee.Equal(decimal.NewFromInt(15)) &&
			o.FreelancerEarnings.Equal(decimal.NewFromInt(135)) &&
			o.ExtrasPrice.Equal(decimal.NewFromInt(50))
	}), mock.Anything, mock.Anything).Return(&models.Order{ID: uuid.New(), Status: models.OrderStatusPending}, nil)

	_, err := svc.CreateOrder(ctx, client, CreateOrderInput{
		FreelancerID:     uuid.New(),
		Title:            "Логотип",
		BasePrice:        decimal.NewFromInt(100),
		DeliveryDeadline: time.Now().Add(72 * time.Hour),
		Extras: []OrderExtraInput{
			{Title: "Исходники", Quantity: 2, Price: decimal.NewFromInt(25)},
		},
	})
	assert.NoError(t, err)
	orders.AssertExpectations(t)
}

func TestOrderService_CreateOrder_FreelancerForbidden(t *testing.T) {
	svc := newTestOrderService(new(mockOrderRepo), new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	freelancer := &models.Actor{ID: uuid.New(), UserType: models.UserTypeFreelancer, Status: models.UserStatusActive}

	_, err := svc.CreateOrder(context.Background(), freelancer, CreateOrderInput{
		FreelancerID:     uuid.New(),
		Title:            "Логотип",
		BasePrice:        decimal.NewFromInt(100),
		DeliveryDeadline: time.Now().Add(time.Hour),
	})
	assert.True(t, apperror.IsForbidden(err))
}

func TestOrderService_CreateOrder_SelfOrderRejected(t *testing.T) {
	svc := newTestOrderService(new(mockOrderRepo), new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	client := activeClient()

	_, err := svc.CreateOrder(context.Background(), client, CreateOrderInput{
		FreelancerID:     client.ID,
		Title:            "Логотип",
		BasePrice:        decimal.NewFromInt(100),
		DeliveryDeadline: time.Now().Add(time.Hour),
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestOrderService_UpdateStatus_IllegalEdge(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	client := activeClient()
	orderID := uuid.New()

	orders.On("GetByID", mock.Anything, orderID).Return(&models.Order{
		ID: orderID, ClientID: client.ID, Status: models.OrderStatusPending,
	}, nil)

	_, err := svc.UpdateStatus(context.Background(), client, orderID, models.OrderStatusCompleted, "")
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestOrderService_UpdateStatus_WrongRole(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	freelancer := &models.Actor{ID: uuid.New(), UserType: models.UserTypeFreelancer, Status: models.UserStatusActive}
	orderID := uuid.New()

	// фрилансер не может принять собственную работу
	orders.On("GetByID", mock.Anything, orderID).Return(&models.Order{
		ID: orderID, FreelancerID: freelancer.ID, Status: models.OrderStatusDelivered,
	}, nil)

	_, err := svc.UpdateStatus(context.Background(), freelancer, orderID, models.OrderStatusCompleted, "")
	assert.True(t, apperror.IsForbidden(err))
}

func TestOrderService_UpdateStatus_Outsider(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	outsider := activeClient()
	orderID := uuid.New()

	orders.On("GetByID", mock.Anything, orderID).Return(&models.Order{
		ID: orderID, ClientID: uuid.New(), FreelancerID: uuid.New(), Status: models.OrderStatusDelivered,
	}, nil)

	_, err := svc.UpdateStatus(context.Background(), outsider, orderID, models.OrderStatusCompleted, "")
	assert.True(t, apperror.IsForbidden(err))
}

func TestOrderService_UpdateStatus_PaidGoesThroughPaymentFlow(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	client := activeClient()
	orderID := uuid.New()

	orders.On("GetByID", mock.Anything, orderID).Return(&models.Order{
		ID: orderID, ClientID: client.ID, Status: models.OrderStatusPending,
	}, nil)

	_, err := svc.UpdateStatus(context.Background(), client, orderID, models.OrderStatusPaid, "")
	assert.True(t, apperror.IsValidation(err))
}

func TestOrderService_UpdateStatus_CompleteReleasesEscrow(t *testing.T) {
	orders := new(mockOrderRepo)
	escrowStore := new(mockEscrowStore)
	deliveries := new(mockDeliveryStore)
	svc := newTestOrderService(orders, escrowStore, deliveries, new(mockCancellationStore))
	client := activeClient()
	orderID := uuid.New()
	deliveryID := uuid.New()

	order := &models.Order{ID: orderID, ClientID: client.ID, Status: models.OrderStatusDelivered}
	escrow := &models.Escrow{
		OrderID:          orderID,
		TotalAmount:      decimal.NewFromInt(350),
		PlatformFee:      decimal.NewFromInt(35),
		FreelancerAmount: decimal.NewFromInt(315),
		Status:           models.EscrowStatusFunded,
	}

	orders.On("GetByID", mock.Anything, orderID).Return(order, nil)
	escrowStore.On("GetByOrderID", mock.Anything, orderID).Return(escrow, nil)
	deliveries.On("Latest", mock.Anything, orderID).Return(&models.Delivery{ID: deliveryID}, nil)
	escrowStore.On("Settle", mock.Anything, mock.MatchedBy(func(p repository.SettleParams) bool {
		return p.OrderID == orderID &&
			p.GrossToFreelancer.Equal(decimal.NewFromInt(350)) &&
			p.EscrowStatus == models.EscrowStatusReleased &&
			p.OrderFrom == models.OrderStatusDelivered &&
			p.OrderTo == models.OrderStatusCompleted &&
			p.AcceptDeliveryID != nil && *p.AcceptDeliveryID == deliveryID &&
			p.ReviewDeadline != nil
	})).Return(&models.Order{ID: orderID, Status: models.OrderStatusCompleted}, escrow, nil)

	updated, err := svc.UpdateStatus(context.Background(), client, orderID, models.OrderStatusCompleted, "")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, updated.Status)
	escrowStore.AssertExpectations(t)
}

func TestOrderService_UpdateStatus_RevisionLimitExhausted(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	client := activeClient()
	orderID := uuid.New()

	orders.On("GetByID", mock.Anything, orderID).Return(&models.Order{
		ID: orderID, ClientID: client.ID, Status: models.OrderStatusDelivered,
		RevisionsIncluded: 1, RevisionsUsed: 1,
	}, nil)

	_, err := svc.UpdateStatus(context.Background(), client, orderID, models.OrderStatusRevisionRequested, "")
	assert.True(t, apperror.IsValidation(err))
}

func TestOrderService_UpdateStatus_RefundWithoutFundedEscrow(t *testing.T) {
	orders := new(mockOrderRepo)
	escrowStore := new(mockEscrowStore)
	svc := newTestOrderService(orders, escrowStore, new(mockDeliveryStore), new(mockCancellationStore))
	admin := &models.Actor{ID: uuid.New(), UserType: models.UserTypeAdmin, Status: models.UserStatusActive}
	orderID := uuid.New()

	orders.On("GetByID", mock.Anything, orderID).Return(&models.Order{
		ID: orderID, Status: models.OrderStatusDisputed,
	}, nil)
	// спор по неоплаченному заказу, деньги не двигаются
	escrowStore.On("GetByOrderID", mock.Anything, orderID).Return(&models.Escrow{
		OrderID: orderID, Status: models.EscrowStatusPending,
	}, nil)
	orders.On("UpdateStatus", mock.Anything, orderID, models.OrderStatusDisputed, models.OrderStatusRefunded, &admin.ID, mock.Anything).
		Return(&models.Order{ID: orderID, Status: models.OrderStatusRefunded}, nil)

	updated, err := svc.UpdateStatus(context.Background(), admin, orderID, models.OrderStatusRefunded, "")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, updated.Status)
	escrowStore.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything)
}

func TestOrderService_UpdateStatus_RefundByClientForbidden(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	client := activeClient()
	orderID := uuid.New()

	orders.On("GetByID", mock.Anything, orderID).Return(&models.Order{
		ID: orderID, ClientID: client.ID, Status: models.OrderStatusDisputed,
	}, nil)

	_, err := svc.UpdateStatus(context.Background(), client, orderID, models.OrderStatusRefunded, "")
	assert.True(t, apperror.IsForbidden(err))
}

func TestOrderService_GetOrder_Outsider(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))
	outsider := activeClient()
	orderID := uuid.New()

	orders.On("GetByID", mock.Anything, orderID).Return(&models.Order{
		ID: orderID, ClientID: uuid.New(), FreelancerID: uuid.New(),
	}, nil)

	_, err := svc.GetOrder(context.Background(), outsider, orderID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestOrderService_GetOrder_NotFound(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestOrderService(orders, new(mockEscrowStore), new(mockDeliveryStore), new(mockCancellationStore))

	orderID := uuid.New()
	orders.On("GetByID", mock.Anything, orderID).Return(nil, repository.ErrOrderNotFound)

	_, err := svc.GetOrder(context.Background(), activeClient(), orderID)
	assert.True(t, apperror.IsNotFound(err))
}
