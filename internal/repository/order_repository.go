package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/repository/common"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderStateConflict  = errors.New("order status changed concurrently")
	ErrRequirementNotFound = errors.New("order requirement not found")
)

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create создаёт заказ в статусе pending вместе с допуслугами, требованиями
// и пустым escrow. Всё в одной транзакции БД.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order, extras []models.OrderExtra, requirements []string) (*models.Order, error) {
	var created *models.Order
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		created, err = insertOrderTx(ctx, tx, order)
		if err != nil {
			return err
		}

		if len(extras) > 0 {
			inserter := common.NewBatchInserter(tx, `
				INSERT INTO order_extras (order_id, gig_extra_id, title, quantity, price)
			`, 5, 100)
			for _, extra := range extras {
				if err := inserter.Add(ctx, created.ID, extra.GigExtraID, extra.Title, extra.Quantity, extra.Price); err != nil {
					return fmt.Errorf("add extra %w", err)
				}
			}
			if err := inserter.Flush(ctx); err != nil {
				return fmt.Errorf("insert extras %w", err)
			}
		}

		if len(requirements) > 0 {
			inserter := common.NewBatchInserter(tx, `
				INSERT INTO order_requirements (order_id, requirement_text)
			`, 2, 100)
			for _, text := range requirements {
				if err := inserter.Add(ctx, created.ID, text); err != nil {
					return fmt.Errorf("add requirement %w", err)
				}
			}
			if err := inserter.Flush(ctx); err != nil {
				return fmt.Errorf("insert requirements %w", err)
			}
		}

		return createEscrowTx(ctx, tx, created)
	})
	if err != nil {
		return nil, fmt.Errorf("order repository: create %w", err)
	}
	return created, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return common.GetByID[models.Order](ctx, r.db, "orders", id, ErrOrderNotFound)
}

func (r *OrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return common.GetByField[models.Order](ctx, r.db, "orders", "order_number", orderNumber, ErrOrderNotFound)
}

// UpdateStatus выполняет один переход статуса с записью в историю.
// Переход атомарен: при конкурентном изменении статуса возвращается
// ErrOrderStateConflict и ничего не записывается.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to string, changedByID *uuid.UUID, notes string) (*models.Order, error) {
	var updated *models.Order
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		updated, err = updateOrderStatusTx(ctx, tx, orderID, from, to, changedByID, notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// History возвращает журнал переходов заказа в хронологическом порядке.
func (r *OrderRepository) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	history := []models.OrderStatusHistory{}
	err := r.db.SelectContext(ctx, &history, `
		SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order repository: history %w", err)
	}
	return history, nil
}

// ListByClient возвращает заказы клиента, опционально отфильтрованные по статусу.
func (r *OrderRepository) ListByClient(ctx context.Context, clientID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	return r.list(ctx, "client_id", clientID, status, limit, offset)
}

// ListByFreelancer возвращает заказы фрилансера, опционально отфильтрованные по статусу.
func (r *OrderRepository) ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	return r.list(ctx, "freelancer_id", freelancerID, status, limit, offset)
}

func (r *OrderRepository) list(ctx context.Context, field string, userID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	query := fmt.Sprintf(`
		SELECT * FROM orders
		WHERE %s = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, field)
	if err := r.db.SelectContext(ctx, &orders, query, userID, status, limit, offset); err != nil {
		return nil, fmt.Errorf("order repository: list by %s %w", field, err)
	}
	return orders, nil
}

// GetExtras возвращает допуслуги заказа.
func (r *OrderRepository) GetExtras(ctx context.Context, orderID uuid.UUID) ([]models.OrderExtra, error) {
	extras := []models.OrderExtra{}
	err := r.db.SelectContext(ctx, &extras, `SELECT * FROM order_extras WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order repository: get extras %w", err)
	}
	return extras, nil
}

// GetRequirements возвращает требования заказа.
func (r *OrderRepository) GetRequirements(ctx context.Context, orderID uuid.UUID) ([]models.OrderRequirement, error) {
	requirements := []models.OrderRequirement{}
	err := r.db.SelectContext(ctx, &requirements, `SELECT * FROM order_requirements WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order repository: get requirements %w", err)
	}
	return requirements, nil
}

// RequirementResponse — ответ клиента на одно требование.
type RequirementResponse struct {
	RequirementID uuid.UUID
	Response      string
}

// ProvideRequirements сохраняет ответы клиента и переводит заказ
// paid -> requirements_provided одной транзакцией.
func (r *OrderRepository) ProvideRequirements(ctx context.Context, orderID uuid.UUID, responses []RequirementResponse, changedByID *uuid.UUID) (*models.Order, error) {
	var updated *models.Order
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, response := range responses {
			result, err := tx.ExecContext(ctx, `
				UPDATE order_requirements
				SET response = $3, is_provided = TRUE, provided_at = NOW()
				WHERE id = $2 AND order_id = $1
			`, orderID, response.RequirementID, response.Response)
			if err != nil {
				return fmt.Errorf("update requirement %w", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("update requirement %w", err)
			}
			if affected == 0 {
				return ErrRequirementNotFound
			}
		}

		var err error
		updated, err = updateOrderStatusTx(ctx, tx, orderID,
			models.OrderStatusPaid, models.OrderStatusRequirementsProvided,
			changedByID, "Клиент предоставил требования к заказу")
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// insertOrderTx вставляет заказ со свежим номером. Занятый номер генерируется заново.
func insertOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) (*models.Order, error) {
	for attempt := 0; attempt < maxIdentifierAttempts; attempt++ {
		orderNumber := models.NewOrderNumber()
		var taken bool
		if err := tx.GetContext(ctx, &taken, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)`, orderNumber); err != nil {
			return nil, fmt.Errorf("check order number %w", err)
		}
		if taken {
			continue
		}

		var created models.Order
		err := tx.GetContext(ctx, &created, `
			INSERT INTO orders (
				order_number, client_id, freelancer_id, gig_id, package_id,
				title, description, status, priority,
				base_price, extras_price, total_price, platform_fee, freelancer_earnings,
				revisions_included, delivery_deadline, estimated_delivery
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			RETURNING *
		`, orderNumber, order.ClientID, order.FreelancerID, order.GigID, order.PackageID,
			order.Title, order.Description, models.OrderStatusPending, order.Priority,
			order.BasePrice, order.ExtrasPrice, order.TotalPrice, order.PlatformFee, order.FreelancerEarnings,
			order.RevisionsIncluded, order.DeliveryDeadline, order.EstimatedDelivery)
		if common.IsUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert order %w", err)
		}
		return &created, nil
	}
	return nil, fmt.Errorf("insert order: %w", common.ErrAlreadyExists)
}

// createEscrowTx создаёт escrow в статусе pending по суммам заказа.
func createEscrowTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO escrow (order_id, client_id, freelancer_id, total_amount, platform_fee, freelancer_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.ClientID, order.FreelancerID,
		order.TotalPrice, order.PlatformFee, order.FreelancerEarnings, models.EscrowStatusPending)
	if err != nil {
		return fmt.Errorf("create escrow %w", err)
	}
	return nil
}

// updateOrderStatusTx выполняет CAS-переход статуса и пишет историю.
// Несостоявшийся CAS различается на "заказ не найден" и "статус уже другой".
func updateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, from, to string, changedByID *uuid.UUID, notes string) (*models.Order, error) {
	var updated models.Order
	err := tx.GetContext(ctx, &updated, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, orderID, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		var current string
		err = tx.GetContext(ctx, &current, `SELECT status FROM orders WHERE id = $1`, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("order repository: resolve status %w", err)
		}
		return nil, fmt.Errorf("%w: ожидался %s, фактически %s", ErrOrderStateConflict, from, current)
	}
	if err != nil {
		return nil, fmt.Errorf("order repository: update status %w", err)
	}

	if err := insertOrderHistoryTx(ctx, tx, orderID, from, to, changedByID, notes); err != nil {
		return nil, err
	}
	return &updated, nil
}

func insertOrderHistoryTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, from, to string, changedByID *uuid.UUID, notes string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, old_status, new_status, changed_by_id, notes)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, from, to, changedByID, notes)
	if err != nil {
		return fmt.Errorf("order repository: insert history %w", err)
	}
	return nil
}

// createReviewInvitationTx создаёт приглашение к отзыву при завершении заказа.
func createReviewInvitationTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, deadline time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO review_invitations (order_id, review_deadline)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, deadline)
	if err != nil {
		return fmt.Errorf("order repository: create review invitation %w", err)
	}
	return nil
}
