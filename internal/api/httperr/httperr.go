// Package httperr maps handler failures onto the API's error taxonomy and
// writes the uniform {"success": false, "message": ...} body.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Kind is an error category with a fixed HTTP status.
type Kind string

const (
	Validation      Kind = "validation"
	Unauthenticated Kind = "unauthenticated"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	RateLimited     Kind = "rate_limited"
	Internal        Kind = "internal"
)

// Status returns the HTTP status code for kind.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		// Duplicate e-mail is reported as a plain bad request.
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a client-safe message and an optional internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error without an internal cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that keeps err for logging.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Body is the JSON error envelope.
type Body struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Abort writes err as a JSON error response and stops the handler chain.
// Errors that are not *Error become a generic 500.
func Abort(c *gin.Context, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Wrap(Internal, "Server error", err)
	}
	if apiErr.Kind == Internal && apiErr.Err != nil {
		_ = c.Error(apiErr.Err)
	}
	c.AbortWithStatusJSON(apiErr.Kind.Status(), Body{Success: false, Message: apiErr.Message})
}

// FromBinding converts a gin binding error into a Validation error with a
// readable message.
func FromBinding(err error) *Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return Wrap(Validation, describe(verrs[0]), err)
	}
	return Wrap(Validation, "Invalid request body", err)
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	if field != "" {
		field = strings.ToLower(field[:1]) + field[1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return field + " is invalid"
	}
}
