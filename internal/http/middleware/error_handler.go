package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gigwork/settlement-backend/internal/logger"
	"github.com/gigwork/settlement-backend/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки централизованно.
// Сервисный слой возвращает *apperror.AppError с кодом и HTTP статусом,
// остальные ошибки маскируются как внутренние.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		statusCode := http.StatusInternalServerError
		code := apperror.ErrCodeInternal
		message := "внутренняя ошибка сервера"

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			statusCode = appErr.HTTPStatus
			code = appErr.Code
			// Сообщения внутренних ошибок наружу не отдаём.
			if appErr.Code != apperror.ErrCodeInternal && appErr.Code != apperror.ErrCodeDatabaseError {
				message = appErr.Message
			}
		}

		if logger.Log != nil && statusCode >= http.StatusInternalServerError {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request error")
		}

		c.JSON(statusCode, gin.H{"error": message, "code": code})
	}
}
