package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type placeOrderPayload struct {
	RecordID string `json:"recordId" binding:"required"`
	Quantity *int   `json:"quantity" binding:"required"`
}

type listOrdersQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"pageSize"`
}

func (h *httpHandler) handlePlaceOrder(c *gin.Context) {
	var payload placeOrderPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	order, err := h.orderService.PlaceOrder(c.Request.Context(), payload.RecordID, *payload.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *httpHandler) handleListOrders(c *gin.Context) {
	var query listOrdersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	page, err := h.orderService.ListOrders(c.Request.Context(), query.Page, query.PageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
