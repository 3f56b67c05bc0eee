// Package errdefs defines the common error kinds shared by the analyzer,
// the server and the client.
package errdefs

import (
	"context"
	"errors"
)

var (
	// ErrInvalidArgument is returned when the input cannot be analyzed at all,
	// e.g. an empty text or a text without the OOM start marker.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a named resource (e.g. a kernel
	// configuration id or a GFP flag) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrFailedPrecondition is returned when the input is well-formed but
	// incomplete, e.g. an OOM block without its terminal marker.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrUnavailable is returned when the server cannot serve the request.
	ErrUnavailable = errors.New("unavailable")
)

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsFailedPrecondition(err error) bool {
	return errors.Is(err, ErrFailedPrecondition)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func IsDeadlineExceeded(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
