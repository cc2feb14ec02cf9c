package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/gigwork/settlement-backend/internal/http/handlers/common"
	"github.com/gigwork/settlement-backend/internal/http/middleware"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// GetWallet GET /payments/wallet
func (h *PaymentHandler) GetWallet(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	wallet, err := h.payments.GetWallet(c.Request.Context(), actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, wallet)
}

// Deposit POST /payments/deposit
func (h *PaymentHandler) Deposit(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "сумма пополнения обязательна")
		return
	}

	transaction, err := h.payments.Deposit(c.Request.Context(), actor, req.Amount)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, transaction)
}

// PayOrder POST /orders/:id/pay
func (h *PaymentHandler) PayOrder(c *gin.Context) {
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
		Method string `json:"method"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, "некорректный запрос")
			return
		}
	}
	if req.Method == "" {
		req.Method = models.ProviderWallet
	}

	escrow, transaction, err := h.payments.PayOrder(c.Request.Context(), actor, orderID, req.Method)
	if err != nil {
		middleware.RecordEscrowSettled("funding_failed")
		common.RespondAppError(c, err)
		return
	}
	middleware.RecordEscrowSettled("funded")

	c.JSON(http.StatusOK, gin.H{"escrow": escrow, "transaction": transaction})
}

// GetEscrow GET /orders/:id/escrow
func (h *PaymentHandler) GetEscrow(c *gin.Context) {
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

	escrow, err := h.payments.GetEscrow(c.Request.Context(), actor, orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, escrow)
}

// ListTransactions GET /payments/transactions
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)

	transactions, err := h.payments.ListTransactions(c.Request.Context(), actor, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

// ReverseTransaction POST /admin/transactions/:txn/reverse
func (h *PaymentHandler) ReverseTransaction(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		Reason string `json:"reason"`
		Notes  string `json:"notes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "пояснение к возврату обязательно")
		return
	}

	refund, err := h.payments.ReverseTransaction(c.Request.Context(), actor, c.Param("txn"), req.Reason, req.Notes)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}

// ListOrderTransactions GET /orders/:id/transactions
func (h *PaymentHandler) ListOrderTransactions(c *gin.Context) {
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

	transactions, err := h.payments.ListOrderTransactions(c.Request.Context(), actor, orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}
