package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gigwork/settlement-backend/internal/http/middleware"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
)

var (
	// ErrActorNotFound возвращается, когда актор отсутствует в контексте запроса.
	ErrActorNotFound = errors.New("пользователь не найден в контексте")

	// ErrInvalidUUID возвращается при ошибке разбора UUID.
	ErrInvalidUUID = errors.New("неверный формат UUID")
)

// CurrentActor извлекает загруженного актора из gin.Context.
func CurrentActor(c *gin.Context) (*models.Actor, error) {
	raw, exists := c.Get(middleware.ContextActorKey)
	if !exists {
		return nil, ErrActorNotFound
	}

	actor, ok := raw.(*models.Actor)
	if !ok {
		return nil, ErrActorNotFound
	}

	return actor, nil
}

// ParseUUIDParam разбирает UUID из параметра URL.
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("параметр %s отсутствует", paramName)
	}

	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}

	return parsed, nil
}

// RespondError отправляет стандартизированный ответ с ошибкой.
func RespondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": message})
}

// RespondAppError разворачивает ошибку сервисного слоя в HTTP ответ.
// Сообщения внутренних ошибок наружу не отдаются.
func RespondAppError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		RespondError(c, http.StatusInternalServerError, "внутренняя ошибка сервера")
		return
	}
	message := appErr.Message
	if appErr.Code == apperror.ErrCodeInternal || appErr.Code == apperror.ErrCodeDatabaseError {
		message = "внутренняя ошибка сервера"
	}
	c.JSON(appErr.HTTPStatus, gin.H{"error": message, "code": appErr.Code})
}

// RespondUnauthorized отправляет 401.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	RespondError(c, http.StatusUnauthorized, message)
}

// RespondBadRequest отправляет 400.
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "некорректный запрос"
	}
	RespondError(c, http.StatusBadRequest, message)
}

// ParseIntQuery безопасно читает целочисленный query параметр.
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination извлекает limit и offset из query параметров.
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
