package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidworks/expertdesk/internal/auth"
	"github.com/rapidworks/expertdesk/internal/lifecycle"
)

// Error codes returned in the "error" field of failure bodies.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeValidation        = "validation_failed"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeIllegalTransition = "illegal_transition"
	CodeConflict          = "conflict"
	CodeInternal          = "internal_error"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Status  int               `json:"-"`
	Code    string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Error formats the code and message.
func (e *ErrorResponse) Error() string {
	return e.Code + ": " + e.Message
}

func newError(status int, code, msg string) *ErrorResponse {
	return &ErrorResponse{Status: status, Code: code, Message: msg}
}

func newValidationError(fields map[string]string) *ErrorResponse {
	return &ErrorResponse{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: "request has invalid fields",
		Fields:  fields,
	}
}

func invalidStructure() *ErrorResponse {
	return newError(http.StatusBadRequest, CodeInvalidRequest, "invalid request structure")
}

// ResolveError maps service errors onto HTTP responses.
func ResolveError(err error) *ErrorResponse {
	var resp *ErrorResponse
	if errors.As(err, &resp) {
		return resp
	}

	var ve *lifecycle.ValidationError
	switch {
	case errors.As(err, &ve):
		return newValidationError(map[string]string{ve.Field: ve.Message})
	case errors.Is(err, lifecycle.ErrNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "task not found")
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return newError(http.StatusConflict, CodeIllegalTransition, err.Error())
	case errors.Is(err, lifecycle.ErrConflict):
		return newError(http.StatusConflict, CodeConflict, "task was changed concurrently, retry")
	case errors.Is(err, lifecycle.ErrForbidden):
		return newError(http.StatusForbidden, CodeForbidden, "not allowed")
	case errors.Is(err, lifecycle.ErrValidation):
		return newError(http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		return newError(http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
	default:
		return newError(http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// HandleError aborts the request with the response for err.
func HandleError(err error, c *gin.Context) {
	resp := ResolveError(err)
	c.AbortWithStatusJSON(resp.Status, resp)
}
