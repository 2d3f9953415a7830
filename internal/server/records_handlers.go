package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createRecordPayload struct {
	Artist     string           `json:"artist" binding:"required"`
	Album      string           `json:"album" binding:"required"`
	Price      *decimal.Decimal `json:"price" binding:"required"`
	Qty        *int             `json:"qty" binding:"required"`
	Format     string           `json:"format" binding:"required"`
	Category   string           `json:"category" binding:"required"`
	ExternalID string           `json:"externalId"`
}

// updateRecordPayload leaves absent or null fields unchanged. Removing the external id
// takes an explicit clearExternalId flag.
type updateRecordPayload struct {
	Artist          *string          `json:"artist"`
	Album           *string          `json:"album"`
	Price           *decimal.Decimal `json:"price"`
	Qty             *int             `json:"qty"`
	Format          *string          `json:"format"`
	Category        *string          `json:"category"`
	ExternalID      *string          `json:"externalId"`
	ClearExternalID bool             `json:"clearExternalId"`
}

type listRecordsQuery struct {
	Q        string `form:"q"`
	Artist   string `form:"artist"`
	Album    string `form:"album"`
	Format   string `form:"format"`
	Category string `form:"category"`
	Sort     string `form:"sort"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

type lookupResponse struct {
	ExternalID *string `json:"externalId"`
}

func (h *httpHandler) handleCreateRecord(c *gin.Context) {
	var payload createRecordPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	record, err := h.recordService.CreateRecord(c.Request.Context(), records.CreateInput{
		Artist:     payload.Artist,
		Album:      payload.Album,
		Price:      *payload.Price,
		Qty:        *payload.Qty,
		Format:     payload.Format,
		Category:   payload.Category,
		ExternalID: payload.ExternalID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *httpHandler) handleUpdateRecord(c *gin.Context) {
	var payload updateRecordPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	record, err := h.recordService.UpdateRecord(c.Request.Context(), c.Param("id"), records.UpdateInput{
		Artist:          payload.Artist,
		Album:           payload.Album,
		Price:           payload.Price,
		Qty:             payload.Qty,
		Format:          payload.Format,
		Category:        payload.Category,
		ExternalID:      payload.ExternalID,
		ClearExternalID: payload.ClearExternalID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleGetRecord(c *gin.Context) {
	record, err := h.recordService.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleListRecords(c *gin.Context) {
	var query listRecordsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	page, hit, err := h.recordService.ListRecords(c.Request.Context(), records.ListQuery{
		Search:   joinSearch(query.Q, query.Artist, query.Album),
		Category: query.Category,
		Format:   query.Format,
		Sort:     query.Sort,
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if hit {
		c.Header(cacheHeader, "HIT")
	} else {
		c.Header(cacheHeader, "MISS")
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleLookupRecord(c *gin.Context) {
	id, ok, err := h.recordService.LookupExternalID(c.Request.Context(), c.Query("artist"), c.Query("album"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := lookupResponse{}
	if ok {
		value := id.String()
		response.ExternalID = &value
	}
	c.JSON(http.StatusOK, response)
}

func joinSearch(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, " ")
}
