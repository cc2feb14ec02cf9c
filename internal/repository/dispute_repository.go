package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/repository/common"
)

var (
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrDisputeAlreadyOpen = errors.New("order already has an open dispute")
	ErrDisputeClosed      = errors.New("dispute is already resolved or closed")
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create открывает спор: строка спора, замороженный escrow помечается disputed,
// заказ переходит в disputed. Одна транзакция БД.
// На заказ допускается не более одного активного спора.
func (r *DisputeRepository) Create(ctx context.Context, dispute *models.OrderDispute, orderFrom string) (*models.OrderDispute, *models.Order, error) {
	var (
		created *models.OrderDispute
		order   *models.Order
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		order, err = updateOrderStatusTx(ctx, tx, dispute.OrderID,
			orderFrom, models.OrderStatusDisputed,
			&dispute.RaisedByID, "Открыт спор: "+dispute.Description)
		if err != nil {
			return err
		}

		var hasOpen bool
		err = tx.GetContext(ctx, &hasOpen, `
			SELECT EXISTS(SELECT 1 FROM order_disputes WHERE order_id = $1 AND status IN ($2, $3))
		`, dispute.OrderID, models.DisputeStatusOpen, models.DisputeStatusInvestigating)
		if err != nil {
			return fmt.Errorf("check open dispute %w", err)
		}
		if hasOpen {
			return ErrDisputeAlreadyOpen
		}

		var inserted models.OrderDispute
		err = tx.GetContext(ctx, &inserted, `
			INSERT INTO order_disputes (order_id, raised_by_id, dispute_type, description, evidence, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		`, dispute.OrderID, dispute.RaisedByID, dispute.DisputeType,
			dispute.Description, dispute.Evidence, models.DisputeStatusOpen)
		if err != nil {
			return fmt.Errorf("insert dispute %w", err)
		}
		created = &inserted

		// escrow неоплаченного заказа остаётся pending
		_, err = tx.ExecContext(ctx, `
			UPDATE escrow SET status = $2 WHERE order_id = $1 AND status = $3
		`, dispute.OrderID, models.EscrowStatusDisputed, models.EscrowStatusFunded)
		if err != nil {
			return fmt.Errorf("mark escrow disputed %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, order, nil
}

// GetOpenByOrderID возвращает активный спор заказа.
func (r *DisputeRepository) GetOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderDispute, error) {
	var dispute models.OrderDispute
	err := r.db.GetContext(ctx, &dispute, `
		SELECT * FROM order_disputes
		WHERE order_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1
	`, orderID, models.DisputeStatusOpen, models.DisputeStatusInvestigating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dispute repository: get open %w", err)
	}
	return &dispute, nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.OrderDispute, error) {
	return common.GetByID[models.OrderDispute](ctx, r.db, "order_disputes", id, ErrDisputeNotFound)
}

// ListOpen возвращает активные споры для админской очереди.
func (r *DisputeRepository) ListOpen(ctx context.Context, limit, offset int) ([]models.OrderDispute, error) {
	disputes := []models.OrderDispute{}
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM order_disputes
		WHERE status IN ($1, $2)
		ORDER BY created_at LIMIT $3 OFFSET $4
	`, models.DisputeStatusOpen, models.DisputeStatusInvestigating, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list open %w", err)
	}
	return disputes, nil
}

// Resolve закрывает спор с разделением средств escrow: спорная запись
// и всё движение денег фиксируются одной транзакцией БД.
// Для спора по неоплаченному заказу settleFunds=false: деньги не двигаются,
// заказ переходит по обычному CAS.
func (r *DisputeRepository) Resolve(ctx context.Context, disputeID uuid.UUID, resolution string, resolvedByID uuid.UUID, amountToFreelancer decimal.Decimal, settleFunds bool, settle SettleParams) (*models.OrderDispute, *models.Order, error) {
	var (
		resolved *models.OrderDispute
		order    *models.Order
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var dispute models.OrderDispute
		err := tx.GetContext(ctx, &dispute, `
			UPDATE order_disputes
			SET status = $2, resolution = $3, resolution_amount = $4, resolved_by_id = $5, resolved_at = NOW()
			WHERE id = $1 AND status IN ($6, $7)
			RETURNING *
		`, disputeID, models.DisputeStatusResolved, resolution, amountToFreelancer, resolvedByID,
			models.DisputeStatusOpen, models.DisputeStatusInvestigating)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM order_disputes WHERE id = $1)`, disputeID); err != nil {
				return fmt.Errorf("resolve dispute state %w", err)
			}
			if !exists {
				return ErrDisputeNotFound
			}
			return ErrDisputeClosed
		}
		if err != nil {
			return fmt.Errorf("resolve dispute %w", err)
		}
		resolved = &dispute

		if settleFunds {
			order, _, err = settleEscrowTx(ctx, tx, settle)
		} else {
			order, err = updateOrderStatusTx(ctx, tx, settle.OrderID,
				settle.OrderFrom, settle.OrderTo, &resolvedByID, settle.Notes)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return resolved, order, nil
}

// CreateCancellation регистрирует отмену заказа. Если escrow был оплачен,
// в той же транзакции средства распределяются по проценту возврата;
// неоплаченный заказ отменяется без движения денег.
func (r *DisputeRepository) CreateCancellation(ctx context.Context, cancellation *models.OrderCancellation, orderFrom string, escrowFunded bool, settle SettleParams) (*models.OrderCancellation, *models.Order, error) {
	var (
		created *models.OrderCancellation
		order   *models.Order
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		if escrowFunded {
			order, _, err = settleEscrowTx(ctx, tx, settle)
		} else {
			order, err = updateOrderStatusTx(ctx, tx, cancellation.OrderID,
				orderFrom, models.OrderStatusCancelled,
				&cancellation.CancelledByID, settle.Notes)
		}
		if err != nil {
			return err
		}

		var inserted models.OrderCancellation
		err = tx.GetContext(ctx, &inserted, `
			INSERT INTO order_cancellations (order_id, cancelled_by_id, reason, detailed_reason, refund_amount, refund_percentage, is_processed, processed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, CASE WHEN $7 THEN NOW() ELSE NULL END)
			RETURNING *
		`, cancellation.OrderID, cancellation.CancelledByID, cancellation.Reason, cancellation.DetailedReason,
			cancellation.RefundAmount, cancellation.RefundPercentage, escrowFunded)
		if err != nil {
			return fmt.Errorf("insert cancellation %w", err)
		}
		created = &inserted

		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET cancellation_reason = $2, cancelled_by_id = $3, cancelled_at = NOW()
			WHERE id = $1
		`, cancellation.OrderID, cancellation.DetailedReason, cancellation.CancelledByID)
		if err != nil {
			return fmt.Errorf("stamp cancellation %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, order, nil
}
