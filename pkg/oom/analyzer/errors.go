package analyzer

import (
	"errors"

	"github.com/leptonai/oomanalyzer/pkg/errdefs"
)

// rejection is returned when a text cannot be analyzed. Its message is
// shown to users as is.
type rejection struct {
	msg  string
	kind error
}

func (e *rejection) Error() string { return e.msg }
func (e *rejection) Unwrap() error { return e.kind }

var (
	ErrEmpty = &rejection{
		msg:  "Empty OOM text. Please insert an OOM message block.",
		kind: errdefs.ErrInvalidArgument,
	}
	ErrNoKernelVersion = &rejection{
		msg:  "Failed to extract kernel version from OOM text",
		kind: errdefs.ErrInvalidArgument,
	}
	ErrInvalid = &rejection{
		msg:  "The inserted text is not a valid OOM block! The initial pattern was not found!",
		kind: errdefs.ErrInvalidArgument,
	}
	ErrIncomplete = &rejection{
		msg:  "The inserted OOM is incomplete! The initial pattern was found but not the final.",
		kind: errdefs.ErrFailedPrecondition,
	}
)

// IsRejection reports whether err is one of the errors above, returned
// with a partial result for a text that cannot be analyzed.
func IsRejection(err error) bool {
	var r *rejection
	return errors.As(err, &r)
}
