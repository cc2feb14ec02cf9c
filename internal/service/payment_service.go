package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gigwork/settlement-backend/internal/events"
	"github.com/gigwork/settlement-backend/internal/logger"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
	"github.com/gigwork/settlement-backend/internal/provider"
	"github.com/gigwork/settlement-backend/internal/repository"
)

type WalletRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, provider, description string) (*models.Transaction, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, t *models.Transaction) (*models.Transaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	Process(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	Reverse(ctx context.Context, id uuid.UUID, reason, notes string) (*models.Transaction, error)
}

type EscrowRepository interface {
	EscrowStore
	FundWithWallet(ctx context.Context, orderID uuid.UUID, changedByID *uuid.UUID, autoReleaseWindow time.Duration) (*models.Escrow, *models.Transaction, error)
	FundWithProvider(ctx context.Context, orderID, transactionID uuid.UUID, changedByID *uuid.UUID, providerTransactionID *string, providerResponse json.RawMessage, autoReleaseWindow time.Duration) (*models.Escrow, *models.Transaction, error)
	ListEligibleForAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error)
}

type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type PaymentService struct {
	wallets      WalletRepository
	transactions TransactionRepository
	escrow       EscrowRepository
	orders       OrderReader
	gateway      provider.PaymentProvider
	publisher    events.Publisher

	providerTimeout   time.Duration
	autoReleaseWindow time.Duration
	reviewWindow      time.Duration
}

func NewPaymentService(
	wallets WalletRepository,
	transactions TransactionRepository,
	escrow EscrowRepository,
	orders OrderReader,
	gateway provider.PaymentProvider,
	publisher events.Publisher,
	providerTimeout, autoReleaseWindow, reviewWindow time.Duration,
) *PaymentService {
	return &PaymentService{
		wallets:           wallets,
		transactions:      transactions,
		escrow:            escrow,
		orders:            orders,
		gateway:           gateway,
		publisher:         publisher,
		providerTimeout:   providerTimeout,
		autoReleaseWindow: autoReleaseWindow,
		reviewWindow:      reviewWindow,
	}
}

// GetWallet возвращает кошелёк актора, создавая его при первом обращении.
func (s *PaymentService) GetWallet(ctx context.Context, actor *models.Actor) (*models.Wallet, error) {
	wallet, err := s.wallets.GetOrCreate(ctx, actor.ID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return wallet, nil
}

// Deposit пополняет баланс кошелька.
func (s *PaymentService) Deposit(ctx context.Context, actor *models.Actor, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	transaction, err := s.wallets.Deposit(ctx, actor.ID, amount, models.ProviderWallet, "Пополнение баланса")
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return transaction, nil
}

// ListTransactions возвращает журнал транзакций актора.
func (s *PaymentService) ListTransactions(ctx context.Context, actor *models.Actor, limit, offset int) ([]models.Transaction, error) {
	transactions, err := s.transactions.ListByUser(ctx, actor.ID, defaultLimit(limit), offset)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return transactions, nil
}

// ListOrderTransactions возвращает транзакции заказа его участнику.
func (s *PaymentService) ListOrderTransactions(ctx context.Context, actor *models.Actor, orderID uuid.UUID) ([]models.Transaction, error) {
	if _, err := s.accessOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	transactions, err := s.transactions.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return transactions, nil
}

// GetEscrow возвращает escrow заказа его участнику.
func (s *PaymentService) GetEscrow(ctx context.Context, actor *models.Actor, orderID uuid.UUID) (*models.Escrow, error) {
	if _, err := s.accessOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	escrow, err := s.escrow.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return escrow, nil
}

// PayOrder оплачивает заказ: средства замораживаются в escrow,
// заказ переходит pending -> paid. Сбой провайдера оставляет заказ
// неоплаченным, а платёжную транзакцию — в статусе failed.
func (s *PaymentService) PayOrder(ctx context.Context, actor *models.Actor, orderID uuid.UUID, method string) (*models.Escrow, *models.Transaction, error) {
	if !actor.IsActive() {
		return nil, nil, apperror.ErrForbidden
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, translateRepositoryError(err)
	}
	if actor.ID != order.ClientID {
		return nil, nil, apperror.New(apperror.ErrCodeForbidden, "заказ оплачивает клиент")
	}
	if order.Status != models.OrderStatusPending {
		return nil, nil, apperror.ErrInvalidTransition
	}

	var (
		escrow      *models.Escrow
		transaction *models.Transaction
	)
	switch method {
	case models.ProviderWallet:
		escrow, transaction, err = s.escrow.FundWithWallet(ctx, orderID, &actor.ID, s.autoReleaseWindow)
		if err != nil {
			return nil, nil, translateRepositoryError(err)
		}
	case s.gateway.Name():
		escrow, transaction, err = s.payWithProvider(ctx, actor, order)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "неизвестный способ оплаты")
	}

	amount := escrow.TotalAmount
	s.publishEvent(events.Event{
		Type:      events.EventOrderPaid,
		OrderID:   orderID,
		ActorID:   &actor.ID,
		OldStatus: models.OrderStatusPending,
		NewStatus: models.OrderStatusPaid,
		Amount:    &amount,
	})
	return escrow, transaction, nil
}

func (s *PaymentService) payWithProvider(ctx context.Context, actor *models.Actor, order *models.Order) (*models.Escrow, *models.Transaction, error) {
	pending, err := s.transactions.Create(ctx, &models.Transaction{
		UserID:          actor.ID,
		OrderID:         &order.ID,
		TransactionType: models.TransactionTypePayment,
		Amount:          order.TotalPrice,
		Fee:             decimal.Zero,
		Provider:        s.gateway.Name(),
		Description:     "Оплата заказа " + order.OrderNumber,
	})
	if err != nil {
		return nil, nil, translateRepositoryError(err)
	}

	// списание передано провайдеру: pending -> processing
	pending, err = s.transactions.Process(ctx, pending.ID)
	if err != nil {
		return nil, nil, translateRepositoryError(err)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	result, err := s.gateway.Charge(chargeCtx, provider.ChargeRequest{
		OrderNumber:   order.OrderNumber,
		TransactionID: pending.TransactionID,
		CustomerID:    actor.ID,
		Amount:        order.TotalPrice,
		Currency:      pending.Currency,
		Description:   order.Title,
	})
	if err != nil {
		// заказ остаётся pending, оплату можно повторить
		if _, failErr := s.transactions.Fail(ctx, pending.ID, err.Error()); failErr != nil {
			logger.Log.WithError(failErr).Error("Не удалось пометить платёжную транзакцию failed")
		}
		return nil, nil, apperror.Wrap(err, apperror.ErrCodeProvider, "платёжный провайдер отклонил списание")
	}

	escrow, transaction, err := s.escrow.FundWithProvider(ctx, order.ID, pending.ID, &actor.ID,
		&result.ProviderTransactionID, result.RawResponse, s.autoReleaseWindow)
	if err != nil {
		return nil, nil, translateRepositoryError(err)
	}
	return escrow, transaction, nil
}

// ReleaseEligibleEscrows выплачивает escrow с истёкшим окном автовыплаты.
// Ошибки отдельных заказов логируются и не останавливают проход.
func (s *PaymentService) ReleaseEligibleEscrows(ctx context.Context, now time.Time, limit int) (int, error) {
	eligible, err := s.escrow.ListEligibleForAutoRelease(ctx, now, limit)
	if err != nil {
		return 0, translateRepositoryError(err)
	}

	released := 0
	reviewDeadline := now.Add(s.reviewWindow)
	for _, escrow := range eligible {
		_, _, err := s.escrow.Settle(ctx, repository.SettleParams{
			OrderID:           escrow.OrderID,
			GrossToFreelancer: escrow.TotalAmount,
			EscrowStatus:      models.EscrowStatusReleased,
			OrderFrom:         models.OrderStatusDelivered,
			OrderTo:           models.OrderStatusCompleted,
			Notes:             "Автоматическая выплата: клиент не ответил на сдачу",
			ReviewDeadline:    &reviewDeadline,
		})
		if err != nil {
			logger.Log.WithError(err).WithField("order_id", escrow.OrderID).
				Warn("Автовыплата escrow не выполнена")
			continue
		}
		released++

		amount := escrow.TotalAmount
		s.publishEvent(events.Event{
			Type:    events.EventEscrowReleased,
			OrderID: escrow.OrderID,
			Amount:  &amount,
		})
	}
	return released, nil
}

// ReverseTransaction отменяет завершённую транзакцию по её публичному
// идентификатору: сумма возвращается плательщику, создаётся компенсирующая
// refund-транзакция и запись в журнале возвратов. Только администратор.
func (s *PaymentService) ReverseTransaction(ctx context.Context, actor *models.Actor, transactionID, reason, notes string) (*models.Transaction, error) {
	if !actor.IsAdmin() || !actor.IsActive() {
		return nil, apperror.ErrForbidden
	}
	if reason == "" {
		reason = models.RefundReasonReversal
	}

	original, err := s.transactions.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if original.Status != models.TransactionStatusCompleted {
		return nil, apperror.New(apperror.ErrCodeConflict, "отменить можно только завершённую транзакцию")
	}

	refund, err := s.transactions.Reverse(ctx, original.ID, reason, notes)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	return refund, nil
}

func (s *PaymentService) accessOrder(ctx context.Context, actor *models.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, translateRepositoryError(err)
	}
	if order.RoleOf(actor) == "" {
		return nil, apperror.ErrForbidden
	}
	return order, nil
}

func (s *PaymentService) publishEvent(event events.Event) {
	event.OccurredAt = time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Log.WithError(err).Warn("Не удалось опубликовать событие")
	}
}
