package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/repository/common"
)

var (
	ErrEscrowNotFound = errors.New("escrow not found")
	ErrEscrowState    = errors.New("escrow is not in a suitable state")
)

type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// GetByOrderID возвращает escrow заказа.
func (r *EscrowRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error) {
	return common.GetByField[models.Escrow](ctx, r.db, "escrow", "order_id", orderID, ErrEscrowNotFound)
}

// FundWithWallet финансирует escrow с кошелька клиента: заморозка средств,
// завершённая платёжная транзакция, escrow -> funded и заказ pending -> paid.
// Всё в одной транзакции БД: либо деньги заморожены и заказ оплачен, либо ничего.
func (r *EscrowRepository) FundWithWallet(ctx context.Context, orderID uuid.UUID, changedByID *uuid.UUID, autoReleaseWindow time.Duration) (*models.Escrow, *models.Transaction, error) {
	var (
		escrow  *models.Escrow
		payment *models.Transaction
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		locked, err := lockEscrowTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if locked.Status != models.EscrowStatusPending {
			return fmt.Errorf("%w: escrow %s", ErrEscrowState, locked.Status)
		}

		if err := freezeFundsTx(ctx, tx, locked.ClientID, locked.TotalAmount); err != nil {
			return err
		}

		payment, err = insertCompletedTransactionTx(ctx, tx, &models.Transaction{
			UserID:          locked.ClientID,
			OrderID:         &orderID,
			TransactionType: models.TransactionTypePayment,
			Amount:          locked.TotalAmount,
			Fee:             decimal.Zero,
			Provider:        models.ProviderWallet,
			Description:     "Оплата заказа с кошелька",
		})
		if err != nil {
			return err
		}

		escrow, err = fundEscrowTx(ctx, tx, locked.ID, payment.ID, autoReleaseWindow)
		if err != nil {
			return err
		}

		_, err = updateOrderStatusTx(ctx, tx, orderID,
			models.OrderStatusPending, models.OrderStatusPaid,
			changedByID, "Заказ оплачен с кошелька")
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return escrow, payment, nil
}

// FundWithProvider завершает ранее созданную провайдерскую транзакцию
// и финансирует escrow: средства зачисляются сразу в замороженный баланс.
func (r *EscrowRepository) FundWithProvider(ctx context.Context, orderID, transactionID uuid.UUID, changedByID *uuid.UUID, providerTransactionID *string, providerResponse json.RawMessage, autoReleaseWindow time.Duration) (*models.Escrow, *models.Transaction, error) {
	var (
		escrow  *models.Escrow
		payment *models.Transaction
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		locked, err := lockEscrowTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if locked.Status != models.EscrowStatusPending {
			return fmt.Errorf("%w: escrow %s", ErrEscrowState, locked.Status)
		}

		payment, err = completeTransactionTx(ctx, tx, transactionID, providerTransactionID, providerResponse)
		if err != nil {
			return err
		}

		if err := freezeExternalFundsTx(ctx, tx, locked.ClientID, locked.TotalAmount); err != nil {
			return err
		}

		escrow, err = fundEscrowTx(ctx, tx, locked.ID, payment.ID, autoReleaseWindow)
		if err != nil {
			return err
		}

		_, err = updateOrderStatusTx(ctx, tx, orderID,
			models.OrderStatusPending, models.OrderStatusPaid,
			changedByID, "Заказ оплачен через платёжного провайдера")
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return escrow, payment, nil
}

// SettleParams описывает одно закрытие escrow.
// GrossToFreelancer задаёт долю стороны фрилансера: полная сумма при выплате,
// ноль при возврате, промежуточное значение при разрешении спора.
type SettleParams struct {
	OrderID           uuid.UUID
	GrossToFreelancer decimal.Decimal
	EscrowStatus      string
	OrderFrom         string
	OrderTo           string
	ChangedByID       *uuid.UUID
	Notes             string
	RefundReason      string
	ReviewDeadline    *time.Time
	AcceptDeliveryID  *uuid.UUID
}

// Settle закрывает escrow: списывает замороженную долю фрилансера,
// возвращает остаток клиенту, создаёт payout/refund транзакции,
// переводит заказ и пишет историю. Одна транзакция БД на всё движение денег.
func (r *EscrowRepository) Settle(ctx context.Context, params SettleParams) (*models.Order, *models.Escrow, error) {
	var (
		order  *models.Order
		escrow *models.Escrow
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		order, escrow, err = settleEscrowTx(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return order, escrow, nil
}

// settleEscrowTx — тело закрытия escrow, пригодное для вызова из чужой
// транзакции БД (разрешение спора, отмена заказа).
func settleEscrowTx(ctx context.Context, tx *sqlx.Tx, params SettleParams) (*models.Order, *models.Escrow, error) {
	var (
		order  *models.Order
		escrow *models.Escrow
	)
	err := func() error {
		locked, err := lockEscrowTx(ctx, tx, params.OrderID)
		if err != nil {
			return err
		}
		if !locked.IsSettleable() {
			return fmt.Errorf("%w: escrow %s", ErrEscrowState, locked.Status)
		}
		if params.GrossToFreelancer.IsNegative() || params.GrossToFreelancer.GreaterThan(locked.TotalAmount) {
			return fmt.Errorf("%w: сумма выплаты вне пределов escrow", common.ErrInvalidInput)
		}

		split := locked.SplitEscrowAmount(params.GrossToFreelancer)

		if split.GrossToFreelancer.IsPositive() {
			if err := deductFrozenFundsTx(ctx, tx, locked.ClientID, split.GrossToFreelancer); err != nil {
				return err
			}
		}
		if split.RefundToClient.IsPositive() {
			if err := releaseFrozenFundsTx(ctx, tx, locked.ClientID, split.RefundToClient); err != nil {
				return err
			}
		}
		if split.NetToFreelancer.IsPositive() {
			if err := addFundsTx(ctx, tx, locked.FreelancerID, split.NetToFreelancer); err != nil {
				return err
			}
		}

		var releaseTransactionID *uuid.UUID
		if split.GrossToFreelancer.IsPositive() {
			payout, err := insertCompletedTransactionTx(ctx, tx, &models.Transaction{
				UserID:          locked.FreelancerID,
				OrderID:         &params.OrderID,
				TransactionType: models.TransactionTypePayout,
				Amount:          split.GrossToFreelancer,
				Fee:             split.FeeShare,
				Provider:        models.ProviderWallet,
				Description:     "Выплата по заказу",
			})
			if err != nil {
				return err
			}
			releaseTransactionID = &payout.ID
		}

		if split.RefundToClient.IsPositive() {
			refund, err := insertCompletedTransactionTx(ctx, tx, &models.Transaction{
				UserID:          locked.ClientID,
				OrderID:         &params.OrderID,
				TransactionType: models.TransactionTypeRefund,
				Amount:          split.RefundToClient,
				Fee:             decimal.Zero,
				Provider:        models.ProviderWallet,
				Description:     "Возврат средств по заказу",
			})
			if err != nil {
				return err
			}
			if err := insertPaymentRefundTx(ctx, tx, locked, refund, split.RefundToClient, params.RefundReason, params.Notes); err != nil {
				return err
			}
		}

		escrow, err = closeEscrowTx(ctx, tx, locked.ID, params.EscrowStatus, releaseTransactionID)
		if err != nil {
			return err
		}

		if params.AcceptDeliveryID != nil {
			if err := markDeliveryAcceptedTx(ctx, tx, *params.AcceptDeliveryID); err != nil {
				return err
			}
		}

		order, err = updateOrderStatusTx(ctx, tx, params.OrderID,
			params.OrderFrom, params.OrderTo, params.ChangedByID, params.Notes)
		if err != nil {
			return err
		}

		if params.OrderTo == models.OrderStatusCompleted && params.ReviewDeadline != nil {
			return createReviewInvitationTx(ctx, tx, params.OrderID, *params.ReviewDeadline)
		}
		return nil
	}()
	if err != nil {
		return nil, nil, err
	}
	return order, escrow, nil
}

// ListEligibleForAutoRelease возвращает escrow, готовые к автоматической выплате.
func (r *EscrowRepository) ListEligibleForAutoRelease(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	eligible := []models.Escrow{}
	err := r.db.SelectContext(ctx, &eligible, `
		SELECT e.* FROM escrow e
		JOIN orders o ON o.id = e.order_id
		WHERE e.status = $1
		  AND NOT e.is_manual_release_required
		  AND e.auto_release_date IS NOT NULL
		  AND e.auto_release_date < $2
		  AND o.status = $3
		ORDER BY e.auto_release_date
		LIMIT $4
	`, models.EscrowStatusFunded, now, models.OrderStatusDelivered, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list eligible %w", err)
	}
	return eligible, nil
}

// lockEscrowTx блокирует строку escrow заказа на время транзакции.
func lockEscrowTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID) (*models.Escrow, error) {
	var escrow models.Escrow
	err := tx.GetContext(ctx, &escrow, `SELECT * FROM escrow WHERE order_id = $1 FOR UPDATE`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escrow repository: lock %w", err)
	}
	return &escrow, nil
}

// fundEscrowTx переводит escrow pending -> funded и назначает дату автовыплаты.
func fundEscrowTx(ctx context.Context, tx *sqlx.Tx, escrowID, fundingTransactionID uuid.UUID, autoReleaseWindow time.Duration) (*models.Escrow, error) {
	autoReleaseDate := time.Now().Add(autoReleaseWindow)
	var escrow models.Escrow
	err := tx.GetContext(ctx, &escrow, `
		UPDATE escrow
		SET status = $2, funding_transaction_id = $3, funded_at = NOW(), auto_release_date = $4
		WHERE id = $1 AND status = $5
		RETURNING *
	`, escrowID, models.EscrowStatusFunded, fundingTransactionID, autoReleaseDate, models.EscrowStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowState
	}
	if err != nil {
		return nil, fmt.Errorf("escrow repository: fund %w", err)
	}
	return &escrow, nil
}

// closeEscrowTx переводит escrow в released или refunded.
func closeEscrowTx(ctx context.Context, tx *sqlx.Tx, escrowID uuid.UUID, status string, releaseTransactionID *uuid.UUID) (*models.Escrow, error) {
	var escrow models.Escrow
	err := tx.GetContext(ctx, &escrow, `
		UPDATE escrow
		SET status = $2,
		    release_transaction_id = COALESCE($3, release_transaction_id),
		    released_at = CASE WHEN $2 = 'released' THEN NOW() ELSE released_at END,
		    refunded_at = CASE WHEN $2 = 'refunded' THEN NOW() ELSE refunded_at END
		WHERE id = $1
		RETURNING *
	`, escrowID, status, releaseTransactionID)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: close %w", err)
	}
	return &escrow, nil
}

// completeTransactionTx завершает транзакцию в статусе processing внутри
// транзакции БД. Завершение из pending недопустимо.
func completeTransactionTx(ctx context.Context, tx *sqlx.Tx, transactionID uuid.UUID, providerTransactionID *string, providerResponse json.RawMessage) (*models.Transaction, error) {
	var transaction models.Transaction
	err := tx.GetContext(ctx, &transaction, `
		UPDATE transactions
		SET status = $2,
		    completed_at = NOW(),
		    provider_transaction_id = COALESCE($3, provider_transaction_id),
		    provider_response = COALESCE($4, provider_response)
		WHERE id = $1 AND status = 'processing'
		RETURNING *
	`, transactionID, models.TransactionStatusCompleted, providerTransactionID, providerResponse)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionState
	}
	if err != nil {
		return nil, fmt.Errorf("complete transaction %w", err)
	}
	return &transaction, nil
}

func insertPaymentRefundTx(ctx context.Context, tx *sqlx.Tx, escrow *models.Escrow, refund *models.Transaction, amount decimal.Decimal, reason, description string) error {
	if reason == "" {
		reason = models.RefundReasonError
	}
	var originalTransactionID uuid.UUID
	if escrow.FundingTransactionID != nil {
		originalTransactionID = *escrow.FundingTransactionID
	} else {
		originalTransactionID = refund.ID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_refunds (original_transaction_id, refund_transaction_id, user_id, order_id, amount, reason, reason_description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, originalTransactionID, refund.ID, escrow.ClientID, escrow.OrderID, amount, reason, description)
	if err != nil {
		return fmt.Errorf("insert payment refund %w", err)
	}
	return nil
}
