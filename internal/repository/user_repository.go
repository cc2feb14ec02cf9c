package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/repository/common"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository читает реплику таблицы участников.
// Профили живут в сервисе аккаунтов, здесь только тип и статус.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetActor(ctx context.Context, id uuid.UUID) (*models.Actor, error) {
	return common.GetByID[models.Actor](ctx, r.db, "users", id, ErrUserNotFound)
}
