package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"TickerVault/internal/model"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// APIError is one error item in a failed response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

func dataResponse(c echo.Context, status int, data any) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func successResponse(c echo.Context, data any) error {
	return dataResponse(c, http.StatusOK, data)
}

func badRequestResponse(c echo.Context, data any) error {
	return dataResponse(c, http.StatusBadRequest, data)
}

// errorResponse maps the domain error taxonomy to status codes.
func errorResponse(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "ERR_INTERNAL"
	switch {
	case errors.Is(err, model.ErrJobNotFound):
		status, code = http.StatusNotFound, "ERR_JOB_NOT_FOUND"
	case errors.Is(err, model.ErrAlreadyRunning):
		status, code = http.StatusConflict, "ERR_ALREADY_RUNNING"
	case errors.Is(err, model.ErrInvalidSchedule):
		status, code = http.StatusBadRequest, "ERR_INVALID_SCHEDULE"
	case errors.Is(err, model.ErrSchedulerStopped):
		status, code = http.StatusServiceUnavailable, "ERR_SCHEDULER_STOPPED"
	case errors.Is(err, errUnknownRegion):
		status, code = http.StatusNotFound, "ERR_UNKNOWN_REGION"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Something went wrong"
	}
	return dataResponse(c, status, []APIError{{Code: code, Message: msg}})
}
