package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest = "http.invalid_request"
	reasonInternal     = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type codedError interface {
	Code() string
}

// statusFor maps domain sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, records.ErrInvalidInput), errors.Is(err, orders.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, records.ErrRecordNotFound), errors.Is(err, orders.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, records.ErrDuplicateRecord), errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	response := errorResponse{Error: reasonInternal, Code: reasonInternal}

	var coded codedError
	if errors.As(err, &coded) {
		response.Code = coded.Code()
		if index := strings.LastIndex(response.Code, "."); index >= 0 {
			response.Error = response.Code[index+1:]
		} else {
			response.Error = response.Code
		}
	}

	var validation *records.ValidationError
	switch {
	case errors.As(err, &validation):
		response.Message = validation.Error()
	case status == http.StatusBadRequest:
		if cause := errors.Unwrap(err); cause != nil {
			response.Message = cause.Error()
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Error = reasonInternal
	}
	c.JSON(status, response)
}

func writeBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:   "invalid_request",
		Code:    codeInvalidRequest,
		Message: message,
	})
}
