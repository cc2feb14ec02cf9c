package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
)

type mockDeliveryRepo struct {
	mock.Mock
}

func (m *mockDeliveryRepo) Create(ctx context.Context, delivery *models.Delivery, changedByID *uuid.UUID) (*models.Delivery, *models.Order, error) {
	args := m.Called(ctx, delivery, changedByID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Delivery), args.Get(1).(*models.Order), args.Error(2)
}

func (m *mockDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Delivery), args.Error(1)
}

func (m *mockDeliveryRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Delivery, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]models.Delivery), args.Error(1)
}

func (m *mockDeliveryRepo) Latest(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Delivery), args.Error(1)
}

func newTestDeliveryService(deliveries *mockDeliveryRepo, orders *mockOrderRepo) *DeliveryService {
	return NewDeliveryService(deliveries, orders, stubNotifier{}, stubPublisher{})
}

func activeFreelancer() *models.Actor {
	return &models.Actor{ID: uuid.New(), UserType: models.UserTypeFreelancer, Status: models.UserStatusActive}
}

func TestDeliveryService_SubmitDelivery(t *testing.T) {
	deliveries := new(mockDeliveryRepo)
	orders := new(mockOrderRepo)
	svc := newTestDeliveryService(deliveries, orders)
	ctx := context.Background()
	freelancer := activeFreelancer()
	order := inProgressOrder(uuid.New(), freelancer.ID)
	files := json.RawMessage(`[{"name":"logo.zip","path":"x/logo.zip","size":1024,"mime":"application/zip"}]`)

	orders.On("GetByID", ctx, order.ID).Return(order, nil)
	deliveries.On("Create", ctx, mock.MatchedBy(func(d *models.Delivery) bool {
		return d.OrderID == order.ID &&
			d.FreelancerID == freelancer.ID &&
			d.Message == "Готово" &&
			d.IsFinalDelivery
	}), &freelancer.ID).Return(
		&models.Delivery{ID: uuid.New(), OrderID: order.ID, RevisionNumber: 0},
		&models.Order{ID: order.ID, Status: models.OrderStatusDelivered},
		nil,
	)

	delivery, err := svc.SubmitDelivery(ctx, freelancer, SubmitDeliveryInput{
		OrderID:         order.ID,
		Message:         "Готово",
		Files:           files,
		IsFinalDelivery: true,
	})
	assert.NoError(t, err)
	assert.Equal(t, order.ID, delivery.OrderID)
	deliveries.AssertExpectations(t)
}

func TestDeliveryService_SubmitDelivery_StepsThroughInProgress(t *testing.T) {
	deliveries := new(mockDeliveryRepo)
	orders := new(mockOrderRepo)
	svc := newTestDeliveryService(deliveries, orders)
	ctx := context.Background()
	freelancer := activeFreelancer()
	order := inProgressOrder(uuid.New(), freelancer.ID)
	order.Status = models.OrderStatusRevisionRequested

	orders.On("GetByID", ctx, order.ID).Return(order, nil)
	orders.On("UpdateStatus", ctx, order.ID, models.OrderStatusRevisionRequested, models.OrderStatusInProgress,
		&freelancer.ID, "Фрилансер приступил к работе").
		Return(&models.Order{ID: order.ID, ClientID: order.ClientID, FreelancerID: freelancer.ID, Status: models.OrderStatusInProgress}, nil)
	deliveries.On("Create", ctx, mock.Anything, &freelancer.ID).Return(
		&models.Delivery{ID: uuid.New(), OrderID: order.ID, RevisionNumber: 1},
		&models.Order{ID: order.ID, Status: models.OrderStatusDelivered},
		nil,
	)

	_, err := svc.SubmitDelivery(ctx, freelancer, SubmitDeliveryInput{
		OrderID: order.ID,
		Message: "Правки внесены",
	})
	assert.NoError(t, err)
	orders.AssertExpectations(t)
}

func TestDeliveryService_SubmitDelivery_OnlyFreelancer(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestDeliveryService(new(mockDeliveryRepo), orders)
	ctx := context.Background()
	client := activeClient()
	order := inProgressOrder(client.ID, uuid.New())

	orders.On("GetByID", ctx, order.ID).Return(order, nil)

	_, err := svc.SubmitDelivery(ctx, client, SubmitDeliveryInput{OrderID: order.ID})
	assert.True(t, apperror.IsForbidden(err))
}

func TestDeliveryService_SubmitDelivery_UnpaidOrder(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := newTestDeliveryService(new(mockDeliveryRepo), orders)
	ctx := context.Background()
	freelancer := activeFreelancer()
	order := inProgressOrder(uuid.New(), freelancer.ID)
	order.Status = models.OrderStatusPending

	orders.On("GetByID", ctx, order.ID).Return(order, nil)

	_, err := svc.SubmitDelivery(ctx, freelancer, SubmitDeliveryInput{OrderID: order.ID})
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestDeliveryService_GetDelivery_Outsider(t *testing.T) {
	deliveries := new(mockDeliveryRepo)
	orders := new(mockOrderRepo)
	svc := newTestDeliveryService(deliveries, orders)
	ctx := context.Background()
	order := inProgressOrder(uuid.New(), uuid.New())
	delivery := &models.Delivery{ID: uuid.New(), OrderID: order.ID}

	deliveries.On("GetByID", ctx, delivery.ID).Return(delivery, nil)
	orders.On("GetByID", ctx, order.ID).Return(order, nil)

	_, err := svc.GetDelivery(ctx, activeClient(), delivery.ID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestDeliveryService_ListDeliveries(t *testing.T) {
	deliveries := new(mockDeliveryRepo)
	orders := new(mockOrderRepo)
	svc := newTestDeliveryService(deliveries, orders)
	ctx := context.Background()
	client := activeClient()
	order := inProgressOrder(client.ID, uuid.New())

	orders.On("GetByID", ctx, order.ID).Return(order, nil)
	deliveries.On("ListByOrder", ctx, order.ID).Return([]models.Delivery{
		{OrderID: order.ID, RevisionNumber: 0},
		{OrderID: order.ID, RevisionNumber: 1},
	}, nil)

	list, err := svc.ListDeliveries(ctx, client, order.ID)
	assert.NoError(t, err)
	assert.Len(t, list, 2)
}
