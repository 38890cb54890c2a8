package errors

import (
	"errors"
	"fmt"
)

// QanoonError is the structured error type for Qanoon.
// It carries enough context for retry decisions, logging, and user presentation.
type QanoonError struct {
	// Code is the unique error code (e.g., "ERR_304_RATE_LIMITED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *QanoonError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QanoonError) Unwrap() error {
	return e.Cause
}

// Is matches another QanoonError by code, so sentinel-style comparisons work
// with errors.Is.
func (e *QanoonError) Is(target error) bool {
	if t, ok := target.(*QanoonError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *QanoonError) WithDetail(key, value string) *QanoonError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *QanoonError) WithSuggestion(suggestion string) *QanoonError {
	e.Suggestion = suggestion
	return e
}

// New creates a new QanoonError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *QanoonError {
	return &QanoonError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a QanoonError from an existing error.
func Wrap(code string, err error) *QanoonError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *QanoonError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *QanoonError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a network-related error. Network errors are retryable.
func NetworkError(message string, cause error) *QanoonError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *QanoonError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *QanoonError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first QanoonError in err's chain.
func As(err error) (*QanoonError, bool) {
	var qe *QanoonError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IsRetryable reports whether the outermost QanoonError in the chain is retryable.
func IsRetryable(err error) bool {
	if qe, ok := As(err); ok {
		return qe.Retryable
	}
	return false
}

// IsFatal reports whether the error has fatal severity.
func IsFatal(err error) bool {
	if qe, ok := As(err); ok {
		return qe.Severity == SeverityFatal
	}
	return false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	return errors.Is(err, &QanoonError{Code: code})
}

// GetCode extracts the error code, or "" if err is not a QanoonError.
func GetCode(err error) string {
	if qe, ok := As(err); ok {
		return qe.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err is not a QanoonError.
func GetCategory(err error) Category {
	if qe, ok := As(err); ok {
		return qe.Category
	}
	return ""
}
