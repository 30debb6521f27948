package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yates-Labs/medrag/internal/ingest"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

// Response is the envelope for successful calls.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the envelope for failed calls.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

func fail(c *gin.Context, status int, message string, err error) {
	resp := ErrorResponse{Code: status, Message: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	c.JSON(status, resp)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
