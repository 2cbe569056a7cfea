package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          protocol.CodeFor(err),
		CorrelationID: uuid.NewString()[:8],
	}
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errors.IsStoreUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes err as an ErrorResponse and logs it with its correlation id.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	resp := NewErrorResponse(err, message)
	status := statusFor(err)

	log := GetLogger().Warn
	if status >= http.StatusInternalServerError {
		log = GetLogger().Error
	}
	log("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Error(err),
		logger.Int("status", status),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()))

	return ctx.JSON(status, resp)
}
