// Package errors defines the error taxonomy shared by the catalog indexer.
// Sentinels identify the error class; AppError attaches a Kind and a
// human-readable message while still supporting errors.Is/As.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrRecordNotFound    = errors.New("metadata record not found")
	ErrMetadataIO        = errors.New("metadata i/o error")
	ErrUnknownIdentifier = errors.New("record identifier is unknown")
	ErrUnsupportedValue  = errors.New("unsupported value type")
	ErrIndexIO           = errors.New("index i/o error")
	ErrIndexClosed       = errors.New("index is closed")
	ErrRebuildInProgress = errors.New("index rebuild already in progress")
	ErrInvalidInput      = errors.New("invalid input")
)

// Kind groups errors by how the caller is expected to react to them.
type Kind int

const (
	// KindInternal is the zero value for errors with no better class.
	KindInternal Kind = iota
	// KindConfiguration errors are fatal at startup and never recovered.
	KindConfiguration
	// KindField errors are recovered locally as "no value".
	KindField
	// KindRecord errors skip one record and are counted.
	KindRecord
	// KindIndex errors abort the current index operation.
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindField:
		return "field"
	case KindRecord:
		return "record"
	case KindIndex:
		return "index"
	default:
		return "internal"
	}
}

// AppError carries a sentinel, a kind and a message alongside the cause.
type AppError struct {
	Err     error
	Cause   error
	Message string
	Kind    Kind
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Err.Error(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// New returns an AppError without a cause.
func New(sentinel error, kind Kind, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
		Kind:    kind,
	}
}

func Newf(sentinel error, kind Kind, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
	}
}

// Wrap returns an AppError around cause.
func Wrap(sentinel error, kind Kind, cause error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Cause:   cause,
		Message: message,
		Kind:    kind,
	}
}

// Configf is shorthand for a configuration error, the only class that is
// raised at load time rather than per record.
func Configf(format string, args ...any) *AppError {
	return Newf(ErrConfiguration, KindConfiguration, format, args...)
}

// KindOf classifies err. AppError kinds win; otherwise the wrapped sentinel
// decides.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrUnsupportedValue):
		return KindField
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrMetadataIO), errors.Is(err, ErrUnknownIdentifier):
		return KindRecord
	case errors.Is(err, ErrIndexIO), errors.Is(err, ErrIndexClosed):
		return KindIndex
	default:
		return KindInternal
	}
}

// Is and As re-export the standard helpers so callers importing this package
// under the name "errors" keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
