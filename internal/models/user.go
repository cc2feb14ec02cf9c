package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы пользователей
const (
	UserTypeClient     = "client"
	UserTypeFreelancer = "freelancer"
	UserTypeAdmin      = "admin"
)

// Статусы пользователей
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// Actor представляет участника операции, полученного от сервиса аккаунтов.
// Ядро заказов не хранит профили — только тип и статус для проверки прав.
type Actor struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserType  string    `db:"user_type" json:"user_type"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsActive сообщает, может ли актор выполнять операции.
func (a *Actor) IsActive() bool {
	return a.Status == UserStatusActive
}

// IsAdmin сообщает, является ли актор администратором платформы.
func (a *Actor) IsAdmin() bool {
	return a.UserType == UserTypeAdmin
}
