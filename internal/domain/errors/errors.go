// Package errors defines the error values shared by the wallet engine's domain layer.
//
// Every constructor returns a *DomainError whose Err is one of the sentinels below, so
// callers classify with errors.Is and read the code with GetErrorCode.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError carries a stable code and structured details alongside the sentinel.
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

func (e *DomainError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code
	}
}

func (e *DomainError) Unwrap() error { return e.Err }

// IsRetryable satisfies pkg/errors.Retryable.
func (e *DomainError) IsRetryable() bool { return e.Retryable }

// WithDetails merges details into e and returns it.
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    resource + "_NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]interface{}{"field": field},
	}
}

// ConflictError reports a state precondition failure such as an overdrawn wallet.
func ConflictError(resource, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    "CONFLICT",
		Message: fmt.Sprintf("conflict with %s: %s", resource, reason),
	}
}

// InternalError reports a broken invariant inside a store.
func InternalError(message string, cause error) *DomainError {
	de := &DomainError{Err: ErrInternal, Code: "INTERNAL_ERROR", Message: message}
	if cause != nil {
		de.Details = map[string]interface{}{"cause": cause.Error()}
	}
	return de
}

func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool       { return errors.Is(err, ErrInvalidInput) }
func IsConflict(err error) bool           { return errors.Is(err, ErrConflict) }
func IsServiceUnavailable(err error) bool { return errors.Is(err, ErrServiceUnavailable) }

// GetErrorCode returns the code of the first DomainError in err's chain.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "UNKNOWN_ERROR"
}

func GetErrorDetails(err error) map[string]interface{} {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}
