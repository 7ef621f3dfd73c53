package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lodgevision/signage/internal/errs"
)

// envelope is the uniform REST response shape.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

// respondError maps sentinel errors onto status codes and the error
// envelope. Unknown errors surface as SYNC_ERROR without leaking
// internals.
func respondError(c *gin.Context, err error) {
	code := errs.Code(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrGroupNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrNoConnectedDisplays), errors.Is(err, errs.ErrNoContent):
		status = http.StatusConflict
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, envelope{Success: false, Error: &apiError{Code: code, Message: msg}})
}

func respondValidation(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, envelope{Success: false, Error: &apiError{
		Code:    "VALIDATION_ERROR",
		Message: msg,
	}})
}
