package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigwork/settlement-backend/internal/http/handlers/common"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/service"
	"github.com/gigwork/settlement-backend/internal/storage"
)

type DeliveryHandler struct {
	deliveries *service.DeliveryService
	files      *storage.DeliveryStorage
}

func NewDeliveryHandler(deliveries *service.DeliveryService, files *storage.DeliveryStorage) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries, files: files}
}

// Submit POST /orders/:id/deliveries
// Принимает multipart форму: message, is_final_delivery и файлы в поле files.
func (h *DeliveryHandler) Submit(c *gin.Context) {
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

	form, err := c.MultipartForm()
	if err != nil {
		common.RespondBadRequest(c, "ожидается multipart форма")
		return
	}

	var saved []models.DeliveryFile
	for _, header := range form.File["files"] {
		f, err := header.Open()
		if err != nil {
			common.RespondBadRequest(c, "не удалось прочитать файл "+header.Filename)
			return
		}
		meta, err := h.files.Save(c.Request.Context(), orderID, header.Filename, f)
		f.Close()
		if err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
		saved = append(saved, *meta)
	}

	var filesJSON json.RawMessage
	if len(saved) > 0 {
		filesJSON, err = json.Marshal(saved)
		if err != nil {
			common.RespondAppError(c, err)
			return
		}
	}

	delivery, err := h.deliveries.SubmitDelivery(c.Request.Context(), actor, service.SubmitDeliveryInput{
		OrderID:         orderID,
		Message:         c.PostForm("message"),
		Files:           filesJSON,
		IsFinalDelivery: c.PostForm("is_final_delivery") == "true",
	})
	if err != nil {
		// Сдача не записана, файлы в хранилище не нужны.
		for _, meta := range saved {
			_ = h.files.Delete(c.Request.Context(), meta.Path)
		}
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, delivery)
}

// Get GET /deliveries/:id
func (h *DeliveryHandler) Get(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	deliveryID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	delivery, err := h.deliveries.GetDelivery(c.Request.Context(), actor, deliveryID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, delivery)
}

// List GET /orders/:id/deliveries
func (h *DeliveryHandler) List(c *gin.Context) {
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

	deliveries, err := h.deliveries.ListDeliveries(c.Request.Context(), actor, orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}
