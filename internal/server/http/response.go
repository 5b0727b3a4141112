package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/errs"
)

// Envelope is the body of every response: data on success, error on failure.
type Envelope struct {
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError is the machine-readable part of a failure.
type APIError struct {
	Code       string   `json:"code"`
	Violations []string `json:"violations,omitempty"`
}

// RespondOK writes a success envelope.
func RespondOK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{Message: message, Data: data})
}

// RespondError maps err to a status code and writes a failure envelope. Internal errors are
// logged and replaced with a generic message.
func RespondError(c *gin.Context, log *zap.Logger, err error) {
	status, apiErr, msg := classify(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, Envelope{Message: msg, Error: apiErr})
}

func classify(err error) (int, *APIError, string) {
	var ie *errs.IntegrityError
	switch {
	case errors.As(err, &ie):
		return http.StatusUnprocessableEntity, &APIError{Code: "data_integrity", Violations: ie.Violations}, "data integrity violation"
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, &APIError{Code: "validation"}, err.Error()
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, &APIError{Code: "unauthorized"}, "missing or invalid token"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, &APIError{Code: "forbidden"}, "forbidden"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, &APIError{Code: "not_found"}, "not found"
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, &APIError{Code: "conflict"}, err.Error()
	case errors.Is(err, errs.ErrDataIntegrity):
		return http.StatusUnprocessableEntity, &APIError{Code: "data_integrity"}, err.Error()
	default:
		return http.StatusInternalServerError, &APIError{Code: "internal"}, "internal server error"
	}
}
