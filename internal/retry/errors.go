// Package retry classifies remote failures and decides whether and when a
// failed operation is attempted again.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// IsTransient reports whether err classifies as transient.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// IsPermanent reports whether err classifies as permanent.
func IsPermanent(err error) bool {
	return Classify(err) == ClassPermanent
}

// StatusCoder is implemented by transport errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Class is the retry taxonomy of an error.
type Class int

const (
	// ClassNone is the class of a nil error.
	ClassNone Class = iota

	// ClassTransient errors (network, timeout, 5xx, 429) are retried.
	ClassTransient

	// ClassPermanent errors (validation, auth, not found on the server)
	// are never retried automatically.
	ClassPermanent

	// ClassLocal errors are local lookups that failed. They are returned
	// to the caller and never change a SyncStatus.
	ClassLocal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassLocal:
		return "local"
	}

	return "unknown"
}

var localErrors = []error{
	chaterrors.ErrMessageNotFound,
	chaterrors.ErrChannelNotFound,
	chaterrors.ErrInvalidCID,
	chaterrors.ErrInvalidReaction,
	chaterrors.ErrInvalidFilter,
}

// Classify maps err onto the retry taxonomy. Unknown errors are permanent
// so that nothing is retried forever on a failure we do not understand.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	for _, local := range localErrors {
		if errors.Is(err, local) {
			return ClassLocal
		}
	}

	var te *TransientError
	if errors.As(err, &te) {
		return ClassTransient
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if isTransientStatus(sc.StatusCode()) {
			return ClassTransient
		}

		return ClassPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}

	return ClassPermanent
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return code > http.StatusGatewayTimeout && code < 600
}
