package service

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager проверяет access токены, выпущенные сервисом аккаунтов.
// Ядро заказов токены не выпускает, только читает.
type TokenManager struct {
	secret []byte
}

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

// ParseAccess извлекает userID и роль из access токена.
func (m *TokenManager) ParseAccess(token string) (uuid.UUID, string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return uuid.Nil, "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, "", jwt.ErrTokenInvalidClaims
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, "", jwt.ErrTokenInvalidClaims
	}
	role, _ := claims["role"].(string)

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, "", err
	}
	return userID, role, nil
}
