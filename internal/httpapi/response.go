package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, internalerr.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, internalerr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, internalerr.ErrClaimed):
		return http.StatusConflict, "already_processing"
	case errors.Is(err, enrich.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, enrich.ErrQueueClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, internalerr.ErrUpstream):
		return http.StatusInternalServerError, "upstream_error"
	case errors.Is(err, internalerr.ErrPersistence), errors.Is(err, internalerr.ErrStoreUnavailable):
		return http.StatusInternalServerError, "persistence_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		h.log.Error("request failed", "request_id", GetRequestID(c), "code", code, "error", err)
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: err.Error(), Code: code}})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorEnvelope{Error: APIError{Message: err.Error(), Code: "invalid_input"}})
}
