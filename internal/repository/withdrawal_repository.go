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
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrWithdrawalState     = errors.New("withdrawal is not in a suitable state")
	ErrPayoutBatchNotFound = errors.New("payout batch not found")
)

type WithdrawalRepository struct {
	db *sqlx.DB
}

func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// Create списывает сумму с баланса и создаёт заявку на вывод вместе
// с транзакцией журнала. Деньги уходят с баланса сразу: отклонение заявки
// возвращает их обратно.
func (r *WithdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error) {
	var created *models.Withdrawal
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		wallet, err := lockWalletTx(ctx, tx, w.UserID)
		if err != nil {
			return err
		}
		if !wallet.HasSufficientBalance(w.Amount) {
			return ErrInsufficientFunds
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE wallets SET balance = balance - $2, updated_at = NOW() WHERE user_id = $1
		`, w.UserID, w.Amount)
		if err != nil {
			return fmt.Errorf("debit balance %w", err)
		}

		transaction, err := insertTransactionTx(ctx, tx, &models.Transaction{
			UserID:          w.UserID,
			TransactionType: models.TransactionTypeWithdrawal,
			Amount:          w.Amount,
			Fee:             w.Fee,
			Provider:        w.Method,
			Description:     "Вывод средств",
		}, models.TransactionStatusPending)
		if err != nil {
			return err
		}

		var inserted models.Withdrawal
		err = tx.GetContext(ctx, &inserted, `
			INSERT INTO withdrawals (user_id, amount, fee, net_amount, method, account, account_name, status, transaction_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING *
		`, w.UserID, w.Amount, w.Fee, w.Amount.Sub(w.Fee), w.Method, w.Account, w.AccountName,
			models.WithdrawalStatusPending, transaction.ID)
		if err != nil {
			return fmt.Errorf("insert withdrawal %w", err)
		}
		created = &inserted
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("withdrawal repository: create %w", err)
	}
	return created, nil
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return common.GetByID[models.Withdrawal](ctx, r.db, "withdrawals", id, ErrWithdrawalNotFound)
}

// ListByUser возвращает заявки пользователя, новые первыми.
func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	withdrawals := []models.Withdrawal{}
	err := r.db.SelectContext(ctx, &withdrawals, `
		SELECT * FROM withdrawals WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("withdrawal repository: list by user %w", err)
	}
	return withdrawals, nil
}

// Reject отклоняет заявку и возвращает деньги на баланс.
func (r *WithdrawalRepository) Reject(ctx context.Context, id uuid.UUID, reason string) (*models.Withdrawal, error) {
	var rejected *models.Withdrawal
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var w models.Withdrawal
		err := tx.GetContext(ctx, &w, `
			UPDATE withdrawals SET status = $2, rejection_reason = $3, processed_at = NOW()
			WHERE id = $1 AND status IN ($4, $5)
			RETURNING *
		`, id, models.WithdrawalStatusRejected, reason,
			models.WithdrawalStatusPending, models.WithdrawalStatusProcessing)
		if errors.Is(err, sql.ErrNoRows) {
			return r.resolveWithdrawalFailure(ctx, tx, id)
		}
		if err != nil {
			return fmt.Errorf("reject withdrawal %w", err)
		}
		rejected = &w

		_, err = tx.ExecContext(ctx, `
			UPDATE wallets SET balance = balance + $2, updated_at = NOW() WHERE user_id = $1
		`, w.UserID, w.Amount)
		if err != nil {
			return fmt.Errorf("restore balance %w", err)
		}

		if w.TransactionID != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE transactions SET status = $2, notes = $3
				WHERE id = $1 AND status IN ('pending', 'processing')
			`, *w.TransactionID, models.TransactionStatusFailed, reason)
			if err != nil {
				return fmt.Errorf("fail withdrawal transaction %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// CreateBatch собирает ожидающие заявки в батч выплат и помечает их processing.
func (r *WithdrawalRepository) CreateBatch(ctx context.Context, provider string, limit int) (*models.PayoutBatch, error) {
	var batch *models.PayoutBatch
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		pending := []models.Withdrawal{}
		err := tx.SelectContext(ctx, &pending, `
			SELECT * FROM withdrawals WHERE status = $1 AND batch_id IS NULL
			ORDER BY created_at LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, models.WithdrawalStatusPending, limit)
		if err != nil {
			return fmt.Errorf("select pending withdrawals %w", err)
		}
		if len(pending) == 0 {
			return ErrWithdrawalNotFound
		}

		totalAmount := decimal.Zero
		totalFees := decimal.Zero
		ids := make([]uuid.UUID, 0, len(pending))
		for _, w := range pending {
			totalAmount = totalAmount.Add(w.Amount)
			totalFees = totalFees.Add(w.Fee)
			ids = append(ids, w.ID)
		}

		batch, err = insertPayoutBatchTx(ctx, tx, provider, len(pending), totalAmount, totalFees)
		if err != nil {
			return err
		}

		query, args, err := sqlx.In(`
			UPDATE withdrawals SET status = ?, batch_id = ?, processed_at = NOW()
			WHERE id IN (?)
		`, models.WithdrawalStatusProcessing, batch.ID, ids)
		if err != nil {
			return fmt.Errorf("assign batch query %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("assign batch %w", err)
		}

		// транзакции журнала идут в processing вместе со своими заявками
		_, err = tx.ExecContext(ctx, `
			UPDATE transactions SET status = $2, processed_at = NOW()
			WHERE status = $3 AND id IN (
				SELECT transaction_id FROM withdrawals WHERE batch_id = $1 AND transaction_id IS NOT NULL
			)
		`, batch.ID, models.TransactionStatusProcessing, models.TransactionStatusPending)
		if err != nil {
			return fmt.Errorf("process batch transactions %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// CompleteBatch помечает батч и его заявки завершёнными
// и закрывает связанные транзакции журнала.
func (r *WithdrawalRepository) CompleteBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error) {
	var batch *models.PayoutBatch
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var b models.PayoutBatch
		err := tx.GetContext(ctx, &b, `
			UPDATE payout_batches SET status = $2, completed_at = NOW()
			WHERE id = $1 AND status IN ($3, $4)
			RETURNING *
		`, batchID, models.PayoutBatchStatusCompleted,
			models.PayoutBatchStatusPending, models.PayoutBatchStatusProcessing)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPayoutBatchNotFound
		}
		if err != nil {
			return fmt.Errorf("complete batch %w", err)
		}
		batch = &b

		_, err = tx.ExecContext(ctx, `
			UPDATE transactions SET status = $2, completed_at = NOW()
			WHERE status = 'processing' AND id IN (
				SELECT transaction_id FROM withdrawals WHERE batch_id = $1 AND transaction_id IS NOT NULL
			)
		`, batchID, models.TransactionStatusCompleted)
		if err != nil {
			return fmt.Errorf("complete batch transactions %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE withdrawals SET status = $2, completed_at = NOW()
			WHERE batch_id = $1 AND status = $3
		`, batchID, models.WithdrawalStatusCompleted, models.WithdrawalStatusProcessing)
		if err != nil {
			return fmt.Errorf("complete batch withdrawals %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// FailBatch возвращает заявки неудачного батча в очередь на повтор.
func (r *WithdrawalRepository) FailBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error) {
	var batch *models.PayoutBatch
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var b models.PayoutBatch
		err := tx.GetContext(ctx, &b, `
			UPDATE payout_batches SET status = $2, processed_at = NOW()
			WHERE id = $1 AND status IN ($3, $4)
			RETURNING *
		`, batchID, models.PayoutBatchStatusFailed,
			models.PayoutBatchStatusPending, models.PayoutBatchStatusProcessing)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPayoutBatchNotFound
		}
		if err != nil {
			return fmt.Errorf("fail batch %w", err)
		}
		batch = &b

		_, err = tx.ExecContext(ctx, `
			UPDATE withdrawals SET status = $2, batch_id = NULL
			WHERE batch_id = $1 AND status = $3
		`, batchID, models.WithdrawalStatusPending, models.WithdrawalStatusProcessing)
		if err != nil {
			return fmt.Errorf("requeue batch withdrawals %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *WithdrawalRepository) resolveWithdrawalFailure(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM withdrawals WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("resolve withdrawal state %w", err)
	}
	if !exists {
		return ErrWithdrawalNotFound
	}
	return ErrWithdrawalState
}

func insertPayoutBatchTx(ctx context.Context, tx *sqlx.Tx, provider string, count int, totalAmount, totalFees decimal.Decimal) (*models.PayoutBatch, error) {
	for attempt := 0; attempt < maxIdentifierAttempts; attempt++ {
		batchID := models.NewPayoutBatchID()
		var taken bool
		if err := tx.GetContext(ctx, &taken, `SELECT EXISTS(SELECT 1 FROM payout_batches WHERE batch_id = $1)`, batchID); err != nil {
			return nil, fmt.Errorf("check batch id %w", err)
		}
		if taken {
			continue
		}

		var batch models.PayoutBatch
		err := tx.GetContext(ctx, &batch, `
			INSERT INTO payout_batches (batch_id, status, provider, total_withdrawals, total_amount, total_fees)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		`, batchID, models.PayoutBatchStatusProcessing, provider, count, totalAmount, totalFees)
		if common.IsUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert payout batch %w", err)
		}
		return &batch, nil
	}
	return nil, fmt.Errorf("insert payout batch: %w", common.ErrAlreadyExists)
}

// StampBatchProcessing отмечает начало обработки батча провайдером.
func (r *WithdrawalRepository) StampBatchProcessing(ctx context.Context, batchID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payout_batches SET processed_at = $2 WHERE id = $1
	`, batchID, time.Now())
	if err != nil {
		return fmt.Errorf("withdrawal repository: stamp batch %w", err)
	}
	return nil
}
