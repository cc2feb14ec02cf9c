package repository

import (
	"context"
	"database/sql"
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
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionState    = errors.New("transaction is in a terminal state")
)

// maxIdentifierAttempts ограничивает число попыток сгенерировать свободный
// публичный идентификатор. Коллизия в пределах одной секунды крайне маловероятна.
const maxIdentifierAttempts = 5

type TransactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create создаёт транзакцию в статусе pending.
func (r *TransactionRepository) Create(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	var created *models.Transaction
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		created, err = insertTransactionTx(ctx, tx, t, models.TransactionStatusPending)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("transaction repository: create %w", err)
	}
	return created, nil
}

// GetByID возвращает транзакцию по внутреннему идентификатору.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.GetContext(ctx, &t, `SELECT * FROM transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction repository: get by id %w", err)
	}
	return &t, nil
}

// GetByTransactionID возвращает транзакцию по публичному идентификатору TXN...
func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.GetContext(ctx, &t, `SELECT * FROM transactions WHERE transaction_id = $1`, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction repository: get by transaction id %w", err)
	}
	return &t, nil
}

// ListByUser возвращает журнал пользователя, новые записи первыми.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT * FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: list by user %w", err)
	}
	return transactions, nil
}

// ListByOrder возвращает все транзакции заказа в хронологическом порядке.
func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT * FROM transactions WHERE order_id = $1 ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: list by order %w", err)
	}
	return transactions, nil
}

// Process переводит транзакцию pending -> processing.
func (r *TransactionRepository) Process(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.advance(ctx, id, []string{models.TransactionStatusPending}, models.TransactionStatusProcessing, nil)
}

// Complete переводит транзакцию processing -> completed и проставляет completed_at.
// Транзакция, не дошедшая до processing, не может быть завершена.
func (r *TransactionRepository) Complete(ctx context.Context, id uuid.UUID, providerTransactionID *string) (*models.Transaction, error) {
	return r.advance(ctx, id,
		[]string{models.TransactionStatusProcessing},
		models.TransactionStatusCompleted, providerTransactionID)
}

// Fail переводит любую нефинальную транзакцию в failed с пояснением.
func (r *TransactionRepository) Fail(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.GetContext(ctx, &t, `
		UPDATE transactions SET status = $2, notes = $3
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING *
	`, id, models.TransactionStatusFailed, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.resolveAdvanceFailure(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction repository: fail %w", err)
	}
	return &t, nil
}

// Reverse отменяет завершённую транзакцию: исходная запись помечается reversed,
// деньги возвращаются плательщику, создаётся связанная refund-транзакция
// и строка в журнале возвратов.
func (r *TransactionRepository) Reverse(ctx context.Context, id uuid.UUID, reason, notes string) (*models.Transaction, error) {
	var refund *models.Transaction
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var original models.Transaction
		err := tx.GetContext(ctx, &original, `
			UPDATE transactions SET status = $2, notes = $3
			WHERE id = $1 AND status = $4
			RETURNING *
		`, id, models.TransactionStatusReversed, notes, models.TransactionStatusCompleted)
		if errors.Is(err, sql.ErrNoRows) {
			return r.resolveAdvanceFailure(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("reverse original %w", err)
		}

		if err := addFundsTx(ctx, tx, original.UserID, original.Amount); err != nil {
			return err
		}

		refund, err = insertTransactionTx(ctx, tx, &models.Transaction{
			UserID:          original.UserID,
			OrderID:         original.OrderID,
			TransactionType: models.TransactionTypeRefund,
			Amount:          original.Amount,
			Fee:             decimal.Zero,
			Provider:        original.Provider,
			Description:     fmt.Sprintf("Возврат по транзакции %s", original.TransactionID),
		}, models.TransactionStatusCompleted)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO payment_refunds (original_transaction_id, refund_transaction_id, user_id, order_id, amount, reason, reason_description)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, original.ID, refund.ID, original.UserID, original.OrderID, original.Amount, reason, notes)
		if err != nil {
			return fmt.Errorf("insert payment refund %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transaction repository: reverse %w", err)
	}
	return refund, nil
}

func (r *TransactionRepository) advance(ctx context.Context, id uuid.UUID, from []string, to string, providerTransactionID *string) (*models.Transaction, error) {
	now := time.Now()
	var processedAt, completedAt *time.Time
	switch to {
	case models.TransactionStatusProcessing:
		processedAt = &now
	case models.TransactionStatusCompleted:
		completedAt = &now
	}

	var t models.Transaction
	query, args, err := sqlx.In(`
		UPDATE transactions
		SET status = ?,
		    processed_at = COALESCE(?, processed_at),
		    completed_at = COALESCE(?, completed_at),
		    provider_transaction_id = COALESCE(?, provider_transaction_id)
		WHERE id = ? AND status IN (?)
		RETURNING *
	`, to, processedAt, completedAt, providerTransactionID, id, from)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: advance query %w", err)
	}
	err = r.db.GetContext(ctx, &t, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.resolveAdvanceFailure(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction repository: advance %w", err)
	}
	return &t, nil
}

// resolveAdvanceFailure различает отсутствующую транзакцию и недопустимый переход.
func (r *TransactionRepository) resolveAdvanceFailure(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("transaction repository: resolve state %w", err)
	}
	if !exists {
		return ErrTransactionNotFound
	}
	return ErrTransactionState
}

// insertTransactionTx вставляет транзакцию с уникальным публичным идентификатором.
// Занятый идентификатор генерируется заново, число попыток ограничено.
func insertTransactionTx(ctx context.Context, tx *sqlx.Tx, t *models.Transaction, status string) (*models.Transaction, error) {
	if t.Currency == "" {
		t.Currency = "USD"
	}
	net := t.Amount.Sub(t.Fee)

	var completedAt *time.Time
	if status == models.TransactionStatusCompleted {
		now := time.Now()
		completedAt = &now
	}

	for attempt := 0; attempt < maxIdentifierAttempts; attempt++ {
		transactionID := models.NewTransactionID()
		var taken bool
		if err := tx.GetContext(ctx, &taken, `SELECT EXISTS(SELECT 1 FROM transactions WHERE transaction_id = $1)`, transactionID); err != nil {
			return nil, fmt.Errorf("check transaction id %w", err)
		}
		if taken {
			continue
		}

		var created models.Transaction
		err := tx.GetContext(ctx, &created, `
			INSERT INTO transactions (
				transaction_id, user_id, order_id, transaction_type, status,
				amount, currency, fee, net_amount, provider,
				provider_transaction_id, provider_response, description, completed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING *
		`, transactionID, t.UserID, t.OrderID, t.TransactionType, status,
			t.Amount, t.Currency, t.Fee, net, t.Provider,
			t.ProviderTransactionID, t.ProviderResponse, t.Description, completedAt)
		if common.IsUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert transaction %w", err)
		}
		return &created, nil
	}
	return nil, fmt.Errorf("insert transaction: %w", common.ErrAlreadyExists)
}

// insertCompletedTransactionTx создаёт сразу завершённую транзакцию.
// Используется там, где движение денег происходит в той же транзакции БД.
func insertCompletedTransactionTx(ctx context.Context, tx *sqlx.Tx, t *models.Transaction) (*models.Transaction, error) {
	return insertTransactionTx(ctx, tx, t, models.TransactionStatusCompleted)
}
