package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigwork/settlement-backend/internal/http/handlers/common"
	"github.com/gigwork/settlement-backend/internal/repository"
	"github.com/gigwork/settlement-backend/internal/service"
)

type OrderHandler struct {
	orders *service.OrderService
}

func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Create POST /orders
func (h *OrderHandler) Create(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req service.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), actor, req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// Get GET /orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), actor, orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// List GET /orders?status=&limit=&offset=
func (h *OrderHandler) List(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)

	orders, err := h.orders.ListOrders(c.Request.Context(), actor, c.Query("status"), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// History GET /orders/:id/history
func (h *OrderHandler) History(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	history, err := h.orders.History(c.Request.Context(), actor, orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

// GetRequirements GET /orders/:id/requirements
func (h *OrderHandler) GetRequirements(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	requirements, err := h.orders.GetRequirements(c.Request.Context(), actor, orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requirements": requirements})
}

// ProvideRequirements POST /orders/:id/requirements
func (h *OrderHandler) ProvideRequirements(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Responses []repository.RequirementResponse `json:"responses" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "ответы на требования обязательны")
		return
	}

	order, err := h.orders.ProvideRequirements(c.Request.Context(), actor, orderID, req.Responses)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// UpdateStatus PATCH /orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "новый статус обязателен")
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), actor, orderID, req.Status, req.Notes)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
