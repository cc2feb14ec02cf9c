package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigwork/settlement-backend/internal/http/handlers/common"
	"github.com/gigwork/settlement-backend/internal/service"
)

type NotificationHandler struct {
	notifications *service.NotificationService
}

func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List GET /notifications?unread=true
func (h *NotificationHandler) List(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)
	onlyUnread := c.Query("unread") == "true"

	notifications, err := h.notifications.ListNotifications(c.Request.Context(), actor, onlyUnread, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// MarkRead POST /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	notificationID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), actor, notificationID); err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "уведомление прочитано"})
}

// MarkAllRead POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	if err := h.notifications.MarkAllRead(c.Request.Context(), actor); err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "все уведомления прочитаны"})
}
