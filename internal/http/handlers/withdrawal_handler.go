package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigwork/settlement-backend/internal/http/handlers/common"
	"github.com/gigwork/settlement-backend/internal/service"
)

type WithdrawalHandler struct {
	withdrawals *service.WithdrawalService
}

func NewWithdrawalHandler(withdrawals *service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

// Request POST /withdrawals
func (h *WithdrawalHandler) Request(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req service.RequestWithdrawalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}

	withdrawal, err := h.withdrawals.RequestWithdrawal(c.Request.Context(), actor, req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withdrawal)
}

// List GET /withdrawals
func (h *WithdrawalHandler) List(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)

	withdrawals, err := h.withdrawals.ListWithdrawals(c.Request.Context(), actor, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"withdrawals": withdrawals})
}

// Reject POST /admin/withdrawals/:id/reject
func (h *WithdrawalHandler) Reject(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	withdrawalID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "причина отклонения обязательна")
		return
	}

	withdrawal, err := h.withdrawals.RejectWithdrawal(c.Request.Context(), actor, withdrawalID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, withdrawal)
}

// CreateBatch POST /admin/payouts
func (h *WithdrawalHandler) CreateBatch(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		Provider string `json:"provider"`
		Limit    int    `json:"limit"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, "некорректный запрос")
			return
		}
	}

	batch, err := h.withdrawals.CreatePayoutBatch(c.Request.Context(), actor, req.Provider, req.Limit)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// CompleteBatch POST /admin/payouts/:id/complete
func (h *WithdrawalHandler) CompleteBatch(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	batchID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	batch, err := h.withdrawals.CompletePayoutBatch(c.Request.Context(), actor, batchID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// FailBatch POST /admin/payouts/:id/fail
func (h *WithdrawalHandler) FailBatch(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	batchID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	batch, err := h.withdrawals.FailPayoutBatch(c.Request.Context(), actor, batchID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}
