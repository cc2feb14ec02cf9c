package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/repository"
)

// ContextActorKey хранит загруженного актора в gin.Context.
const ContextActorKey = "actor"

// ActorStore загружает актора по идентификатору пользователя.
type ActorStore interface {
	GetActor(ctx context.Context, userID uuid.UUID) (*models.Actor, error)
}

// ActorMiddleware загружает актора из хранилища после проверки токена.
// Токен внешней системы может пережить удаление пользователя,
// поэтому отсутствие записи трактуется как невалидная авторизация.
func ActorMiddleware(users ActorStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exists := c.Get(ContextUserIDKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "требуется авторизация"})
			return
		}
		userID, ok := raw.(uuid.UUID)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "требуется авторизация"})
			return
		}

		actor, err := users.GetActor(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "пользователь не найден"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка сервера"})
			return
		}

		c.Set(ContextActorKey, actor)
		c.Next()
	}
}
