package errors

import (
	"errors"
	"net/http"
)

// Domain errors
var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrContractNotFound    = errors.New("contract not found")
	ErrDecodeEvent         = errors.New("failed to decode event")
	ErrUnknownResource     = errors.New("unknown resource")
	ErrInvalidMessage      = errors.New("invalid message")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidCursor       = errors.New("invalid cursor")
	ErrStorage             = errors.New("storage error")
	ErrInvalidSchema       = errors.New("invalid schema")
)

// AppError represents an application error with an HTTP status code
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new app error
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, ErrInvalidInput)
}

func InvalidCursor(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, ErrInvalidCursor)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, "internal server error", err)
}

// Provider wraps a chain RPC failure with the method that produced it.
func Provider(method string, err error) *AppError {
	return NewAppError(http.StatusBadGateway, "provider call "+method+" failed", errors.Join(ErrProviderUnavailable, err))
}

// Storage wraps a SQL failure inside the executor.
func Storage(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, "storage failure", errors.Join(ErrStorage, err))
}

// DecodeEvent wraps a parse failure for a subscribed event.
func DecodeEvent(name string, err error) *AppError {
	return NewAppError(http.StatusUnprocessableEntity, "decode "+name+" event", errors.Join(ErrDecodeEvent, err))
}
