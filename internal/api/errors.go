package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mohans/helpdesk/asyncx"
	"github.com/mohans/helpdesk/internal/dispatch"
	"github.com/mohans/helpdesk/internal/helpdesk"
)

// ErrorCode defines standard error codes for the API
type ErrorCode string

const (
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnknownTask        ErrorCode = "UNKNOWN_TASK"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func respondWithError(c *gin.Context, statusCode int, errorCode ErrorCode, message string) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode:    string(errorCode),
		ErrorMessage: message,
	})
}

func respondBadRequest(c *gin.Context, message string) {
	respondWithError(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// respondServiceError maps domain errors onto HTTP responses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrNotFound), errors.Is(err, helpdesk.ErrTicketNotFound):
		respondWithError(c, http.StatusNotFound, ErrCodeNotFound, "Ticket not found")
	case errors.Is(err, asyncx.ErrUnknownTask):
		respondWithError(c, http.StatusNotFound, ErrCodeUnknownTask, "Task not found")
	case errors.Is(err, asyncx.ErrBrokerUnavailable):
		respondWithError(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error())
	default:
		respondWithError(c, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error: "+err.Error())
	}
}
