package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/repository/common"
)

var (
	ErrDeliveryNotFound = errors.New("delivery not found")
	ErrDeliveryDecided  = errors.New("delivery is already accepted or rejected")
)

type DeliveryRepository struct {
	db *sqlx.DB
}

func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Create регистрирует сдачу работы и переводит заказ in_progress -> delivered.
// Номер правки продолжает линейную цепочку предыдущих сдач заказа.
func (r *DeliveryRepository) Create(ctx context.Context, delivery *models.Delivery, changedByID *uuid.UUID) (*models.Delivery, *models.Order, error) {
	var (
		created *models.Delivery
		order   *models.Order
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		order, err = updateOrderStatusTx(ctx, tx, delivery.OrderID,
			models.OrderStatusInProgress, models.OrderStatusDelivered,
			changedByID, "Фрилансер сдал работу")
		if err != nil {
			return err
		}

		previous, err := latestDeliveryTx(ctx, tx, delivery.OrderID)
		if err != nil {
			return err
		}
		revisionNumber := 1
		var previousID *uuid.UUID
		if previous != nil {
			revisionNumber = previous.RevisionNumber + 1
			previousID = &previous.ID
		}

		var inserted models.Delivery
		err = tx.GetContext(ctx, &inserted, `
			INSERT INTO deliveries (order_id, freelancer_id, message, files, is_final_delivery, revision_number, previous_delivery_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING *
		`, delivery.OrderID, delivery.FreelancerID, delivery.Message, delivery.Files,
			delivery.IsFinalDelivery, revisionNumber, previousID)
		if err != nil {
			return fmt.Errorf("insert delivery %w", err)
		}
		created = &inserted

		_, err = tx.ExecContext(ctx, `UPDATE orders SET actual_delivery = NOW() WHERE id = $1`, delivery.OrderID)
		if err != nil {
			return fmt.Errorf("stamp actual delivery %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, order, nil
}

// Reject фиксирует отклонение сдачи клиентом: счётчик правок растёт,
// заказ возвращается delivered -> revision_requested.
func (r *DeliveryRepository) Reject(ctx context.Context, deliveryID uuid.UUID, reason string, changedByID *uuid.UUID) (*models.Delivery, *models.Order, error) {
	var (
		rejected *models.Delivery
		order    *models.Order
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var delivery models.Delivery
		err := tx.GetContext(ctx, &delivery, `
			UPDATE deliveries SET is_accepted = FALSE, rejected_reason = $2
			WHERE id = $1 AND is_accepted IS NULL
			RETURNING *
		`, deliveryID, reason)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM deliveries WHERE id = $1)`, deliveryID); err != nil {
				return fmt.Errorf("resolve delivery state %w", err)
			}
			if !exists {
				return ErrDeliveryNotFound
			}
			return ErrDeliveryDecided
		}
		if err != nil {
			return fmt.Errorf("reject delivery %w", err)
		}
		rejected = &delivery

		_, err = tx.ExecContext(ctx, `UPDATE orders SET revisions_used = revisions_used + 1 WHERE id = $1`, delivery.OrderID)
		if err != nil {
			return fmt.Errorf("increment revisions %w", err)
		}

		order, err = updateOrderStatusTx(ctx, tx, delivery.OrderID,
			models.OrderStatusDelivered, models.OrderStatusRevisionRequested,
			changedByID, reason)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return rejected, order, nil
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	return common.GetByID[models.Delivery](ctx, r.db, "deliveries", id, ErrDeliveryNotFound)
}

// ListByOrder возвращает сдачи заказа в порядке правок.
func (r *DeliveryRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Delivery, error) {
	deliveries := []models.Delivery{}
	err := r.db.SelectContext(ctx, &deliveries, `
		SELECT * FROM deliveries WHERE order_id = $1 ORDER BY revision_number
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("delivery repository: list by order %w", err)
	}
	return deliveries, nil
}

// Latest возвращает последнюю сдачу заказа.
func (r *DeliveryRepository) Latest(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.GetContext(ctx, &delivery, `
		SELECT * FROM deliveries WHERE order_id = $1 ORDER BY revision_number DESC LIMIT 1
	`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delivery repository: latest %w", err)
	}
	return &delivery, nil
}

func latestDeliveryTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := tx.GetContext(ctx, &delivery, `
		SELECT * FROM deliveries WHERE order_id = $1 ORDER BY revision_number DESC LIMIT 1 FOR UPDATE
	`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest delivery %w", err)
	}
	return &delivery, nil
}

// markDeliveryAcceptedTx помечает сдачу принятой. Вызывается из Settle.
func markDeliveryAcceptedTx(ctx context.Context, tx *sqlx.Tx, deliveryID uuid.UUID) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE deliveries SET is_accepted = TRUE, accepted_at = NOW()
		WHERE id = $1 AND is_accepted IS NULL
	`, deliveryID)
	if err != nil {
		return fmt.Errorf("accept delivery %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("accept delivery %w", err)
	}
	if affected == 0 {
		return ErrDeliveryDecided
	}
	return nil
}
