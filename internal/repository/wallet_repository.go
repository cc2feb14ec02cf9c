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
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientFrozenFunds = errors.New("insufficient frozen funds")
	ErrWalletNotFound          = errors.New("wallet not found")
)

type WalletRepository struct {
	db *sqlx.DB
}

func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// GetOrCreate возвращает кошелёк пользователя, создаёт если не существует.
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `
		INSERT INTO wallets (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING *
	`
	if err := r.db.GetContext(ctx, &wallet, query, userID); err != nil {
		return nil, fmt.Errorf("wallet repository: get or create %w", err)
	}
	return &wallet, nil
}

// GetByUserID возвращает кошелёк без создания.
func (r *WalletRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.GetContext(ctx, &wallet, `SELECT * FROM wallets WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("wallet repository: get by user %w", err)
	}
	return &wallet, nil
}

// HasSufficientBalance проверяет, хватает ли свободных средств.
func (r *WalletRepository) HasSufficientBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error) {
	wallet, err := r.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	return wallet.HasSufficientBalance(amount), nil
}

// FreezeFunds переводит сумму из свободного баланса в замороженный.
func (r *WalletRepository) FreezeFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		return freezeFundsTx(ctx, tx, userID, amount)
	})
}

// ReleaseFrozenFunds возвращает замороженную сумму в свободный баланс.
func (r *WalletRepository) ReleaseFrozenFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		return releaseFrozenFundsTx(ctx, tx, userID, amount)
	})
}

// DeductFrozenFunds окончательно списывает замороженную сумму.
func (r *WalletRepository) DeductFrozenFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		return deductFrozenFundsTx(ctx, tx, userID, amount)
	})
}

// AddFunds безусловно зачисляет сумму на свободный баланс.
func (r *WalletRepository) AddFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		return addFundsTx(ctx, tx, userID, amount)
	})
}

// Deposit пополняет баланс и создаёт запись в журнале транзакций.
func (r *WalletRepository) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, provider, description string) (*models.Transaction, error) {
	var transaction *models.Transaction
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := addFundsTx(ctx, tx, userID, amount); err != nil {
			return err
		}
		var err error
		transaction, err = insertCompletedTransactionTx(ctx, tx, &models.Transaction{
			UserID:          userID,
			TransactionType: models.TransactionTypeDeposit,
			Amount:          amount,
			Fee:             decimal.Zero,
			Provider:        provider,
			Description:     description,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("wallet repository: deposit %w", err)
	}
	return transaction, nil
}

// lockWalletTx создаёт кошелёк при необходимости и блокирует его строку.
// Все примитивы бухгалтерии идут через эту блокировку — одна строка, один писатель.
func lockWalletTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("wallet repository: ensure wallet %w", err)
	}
	var wallet models.Wallet
	if err := tx.GetContext(ctx, &wallet, `SELECT * FROM wallets WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return nil, fmt.Errorf("wallet repository: lock wallet %w", err)
	}
	return &wallet, nil
}

// freezeFundsTx: balance -= amount; frozen_balance += amount.
func freezeFundsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	wallet, err := lockWalletTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !wallet.HasSufficientBalance(amount) {
		return ErrInsufficientFunds
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET balance = balance - $2, frozen_balance = frozen_balance + $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("wallet repository: freeze funds %w", err)
	}
	return nil
}

// releaseFrozenFundsTx: frozen_balance -= amount; balance += amount.
func releaseFrozenFundsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	wallet, err := lockWalletTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !wallet.HasSufficientFrozen(amount) {
		return ErrInsufficientFrozenFunds
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET frozen_balance = frozen_balance - $2, balance = balance + $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("wallet repository: release frozen funds %w", err)
	}
	return nil
}

// deductFrozenFundsTx: frozen_balance -= amount; total_spent += amount.
func deductFrozenFundsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	wallet, err := lockWalletTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !wallet.HasSufficientFrozen(amount) {
		return ErrInsufficientFrozenFunds
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET frozen_balance = frozen_balance - $2, total_spent = total_spent + $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("wallet repository: deduct frozen funds %w", err)
	}
	return nil
}

// freezeExternalFundsTx зачисляет средства внешнего провайдера сразу
// в замороженный баланс, минуя свободный: деньги пришли ради escrow.
func freezeExternalFundsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, frozen_balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET frozen_balance = wallets.frozen_balance + $2, updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("wallet repository: freeze external funds %w", err)
	}
	return nil
}

// addFundsTx: balance += amount; total_earned += amount. Зачисление не отказывает.
func addFundsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, total_earned)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + $2, total_earned = wallets.total_earned + $2, updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("wallet repository: add funds %w", err)
	}
	return nil
}
