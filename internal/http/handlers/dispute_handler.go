package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/gigwork/settlement-backend/internal/http/handlers/common"
	"github.com/gigwork/settlement-backend/internal/http/middleware"
	"github.com/gigwork/settlement-backend/internal/service"
)

type DisputeHandler struct {
	disputes *service.DisputeService
}

func NewDisputeHandler(disputes *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// Raise POST /orders/:id/disputes
func (h *DisputeHandler) Raise(c *gin.Context) {
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

	var req service.RaiseDisputeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "ошибка валидации запроса: "+err.Error())
		return
	}
	req.OrderID = orderID

	dispute, err := h.disputes.RaiseDispute(c.Request.Context(), actor, req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dispute)
}

// Get GET /orders/:id/disputes
func (h *DisputeHandler) Get(c *gin.Context) {
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

	dispute, err := h.disputes.GetDispute(c.Request.Context(), actor, orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}

// ListOpen GET /admin/disputes
func (h *DisputeHandler) ListOpen(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)

	disputes, err := h.disputes.ListOpenDisputes(c.Request.Context(), actor, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"disputes": disputes})
}

// Resolve POST /admin/disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Resolution         string          `json:"resolution" binding:"required"`
		AmountToFreelancer decimal.Decimal `json:"amount_to_freelancer"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "текст решения обязателен")
		return
	}

	dispute, err := h.disputes.ResolveDispute(c.Request.Context(), actor, service.ResolveDisputeInput{
		DisputeID:          disputeID,
		Resolution:         req.Resolution,
		AmountToFreelancer: req.AmountToFreelancer,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	middleware.RecordEscrowSettled("dispute_resolved")

	c.JSON(http.StatusOK, dispute)
}

// Cancel POST /orders/:id/cancel
func (h *DisputeHandler) Cancel(c *gin.Context) {
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
		Reason           string          `json:"reason"`
		DetailedReason   string          `json:"detailed_reason"`
		RefundPercentage decimal.Decimal `json:"refund_percentage"`
	}
	// Без тела запроса отмена трактуется как полный возврат клиенту.
	req.RefundPercentage = decimal.NewFromInt(100)
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, "некорректный запрос")
			return
		}
	}

	cancellation, err := h.disputes.CancelOrder(c.Request.Context(), actor, service.CancelOrderInput{
		OrderID:          orderID,
		Reason:           req.Reason,
		DetailedReason:   req.DetailedReason,
		RefundPercentage: req.RefundPercentage,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	middleware.RecordEscrowSettled("cancelled")

	c.JSON(http.StatusOK, cancellation)
}
