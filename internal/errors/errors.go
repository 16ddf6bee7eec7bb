// Package errors defines the sentinel errors shared by the storage engine,
// the server and the client, and maps them to user-visible categories.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error categories
// ============================================================================

// Category classifies an error for logging and metrics.
type Category int

const (
	CategoryInternal Category = iota
	CategoryValidation
	CategoryAuth
	CategoryPredicate
	CategoryTransport
	CategoryStorage
)

// String returns the category label used in logs and metric labels.
func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryAuth:
		return "auth"
	case CategoryPredicate:
		return "predicate"
	case CategoryTransport:
		return "transport"
	case CategoryStorage:
		return "storage"
	default:
		return "internal"
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Validation errors
	ErrInvalidProduct   = errors.New("invalid product name")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidPrice     = errors.New("price must not be negative")
	ErrInvalidDays      = errors.New("days out of range")
	ErrInvalidCount     = errors.New("count must be positive")
	ErrInvalidQuantile  = errors.New("quantile must be within [0, 1]")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Auth errors
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not authenticated: login first")
	ErrRateLimited        = errors.New("too many failed login attempts")

	// Predicate errors
	ErrDayEnded = errors.New("day ended before condition was met")

	// Transport errors
	ErrConnectionClosed = errors.New("connection closed")
	ErrFrameTooLarge    = errors.New("frame too large")
	ErrUnknownOpcode    = errors.New("unknown opcode")

	// Storage errors
	ErrDayUnavailable = errors.New("day unavailable")
	ErrStoreClosed    = errors.New("store is closed")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidProduct) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidDays) ||
		errors.Is(err, ErrInvalidCount) ||
		errors.Is(err, ErrInvalidQuantile) ||
		errors.Is(err, ErrInvalidUsername) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsAuthError returns true if err is an authentication error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUserExists) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrRateLimited)
}

// IsTransportError returns true if err is fatal to a connection.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrFrameTooLarge)
}

// CategoryOf maps an error to its category.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryInternal
	case IsValidation(err), Is(err, ErrUnknownOpcode):
		return CategoryValidation
	case IsAuthError(err):
		return CategoryAuth
	case Is(err, ErrDayEnded):
		return CategoryPredicate
	case IsTransportError(err):
		return CategoryTransport
	case Is(err, ErrDayUnavailable), Is(err, ErrStoreClosed):
		return CategoryStorage
	default:
		return CategoryInternal
	}
}

// ============================================================================
// Wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewInvalidValue creates a validation error carrying the offending value.
func NewInvalidValue(sentinel error, value interface{}) error {
	return fmt.Errorf("%w: %v", sentinel, value)
}

// ============================================================================
// Remote errors
// ============================================================================

// RemoteError is an error reported by the server in an ERROR frame.
// The message is the server's rendering of the original error.
type RemoteError struct {
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return e.Message
}

// IsRemote returns true if err originated on the server.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
