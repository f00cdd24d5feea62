package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

// envelope is a JSend body. Fail is a client problem and carries data about
// it; error is a server fault and carries only a message.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Status: statusSuccess, Data: data})
}

func fail(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, envelope{Status: statusFail, Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

func internalError(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, envelope{
		Status:  statusError,
		Message: message,
		Code:    http.StatusInternalServerError,
	})
}
