package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different kinds of failures in a scrape
type ErrorType string

const (
	ErrorTypeEligibility    ErrorType = "eligibility"
	ErrorTypeAlreadyRunning ErrorType = "already_running"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeExtraction     ErrorType = "extraction"
	ErrorTypeNavigation     ErrorType = "navigation"
	ErrorTypeParsing        ErrorType = "parsing"
	ErrorTypePersistence    ErrorType = "persistence"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error carries a failure category together with an optional cause
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same type, so errors.Is(err, ErrTimeout) works
// for any timeout regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is comparisons.
var (
	ErrTimeout        = &Error{Type: ErrorTypeTimeout}
	ErrAlreadyRunning = &Error{Type: ErrorTypeAlreadyRunning}
	ErrNotEligible    = &Error{Type: ErrorTypeEligibility}
)

// New builds an Error of the given type
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Wrap builds an Error of the given type around cause
func Wrap(t ErrorType, msg string, cause error) *Error {
	return &Error{Type: t, Message: msg, Cause: cause}
}

func Timeout(msg string) *Error { return New(ErrorTypeTimeout, msg) }

func Extraction(msg string, cause error) *Error { return Wrap(ErrorTypeExtraction, msg, cause) }

func Navigation(msg string, cause error) *Error { return Wrap(ErrorTypeNavigation, msg, cause) }

func Persistence(msg string, cause error) *Error { return Wrap(ErrorTypePersistence, msg, cause) }

// TypeOf returns the ErrorType found in err's chain, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNavigation, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsRetryableError reports whether err carries a retryable type
func IsRetryableError(err error) bool {
	return err != nil && IsRetryable(TypeOf(err))
}
