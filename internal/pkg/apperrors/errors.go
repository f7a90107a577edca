package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrValidation     ErrorType = "VALIDATION_FAILED"
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrConflict       ErrorType = "CONFLICT"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType         `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"errors,omitempty"`
	HTTPStatus int               `json:"-"`
	Cause      error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
	}
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

// NewValidation reports field-level validation failures as a 422.
func NewValidation(fields map[string]string) *AppError {
	e := New(ErrValidation, "The given data was invalid.", nil)
	e.Fields = fields
	return e
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusUnprocessableEntity
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
