package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/gridsense/gridwatch/internal/alert/domain"
	readingdomain "github.com/gridsense/gridwatch/internal/reading/domain"
	rollupdomain "github.com/gridsense/gridwatch/internal/rollup/domain"
	settingsdomain "github.com/gridsense/gridwatch/internal/settings/domain"
)

// APIError is the wire shape of every non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string { return e.Code }

var (
	ErrNotFound           = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrServiceUnavailable = &APIError{Status: http.StatusServiceUnavailable, Code: "service_unavailable", Message: "service unavailable"}
)

func invalidRequestError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request body"}
}

func newValidationError(field, code, message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

// AbortWithError maps domain sentinel errors onto HTTP statuses; anything
// unrecognized is a 500 with an opaque body.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, readingdomain.ErrInvalidDevice),
		errors.Is(err, readingdomain.ErrMalformedSample),
		errors.Is(err, rollupdomain.ErrInvalidDate),
		errors.Is(err, rollupdomain.ErrInvalidHour),
		errors.Is(err, settingsdomain.ErrInvalidVoltageBand),
		errors.Is(err, settingsdomain.ErrInvalidBudget),
		errors.Is(err, alertdomain.ErrInvalidAlertType):
		status = http.StatusBadRequest
		code = err.Error()
	}

	c.AbortWithStatusJSON(status, gin.H{"error": &APIError{
		Status:  status,
		Code:    code,
		Message: http.StatusText(status),
	}})
}
