package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"auditgate/internal/errs"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// FromError maps the engine error taxonomy onto HTTP statuses. The split
// between 409 and 410 lets callers tell "retry later" from "never".
func FromError(c *gin.Context, err error) {
	switch {
	case errs.IsValidation(err):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, errs.ErrNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, errs.ErrAlreadyFinalized):
		Error(c, http.StatusGone, err.Error(), nil)
	case errors.Is(err, errs.ErrInvalidState), errors.Is(err, errs.ErrConflict):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, errs.ErrForbidden):
		Error(c, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, errs.ErrDependencyUnavailable):
		Error(c, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
