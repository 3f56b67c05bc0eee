package analyzer

import (
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
)

type Op struct {
	registry *kernelconfig.Registry
	configID string
	noLog    bool
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}

	if op.registry == nil {
		r, err := kernelconfig.Default()
		if err != nil {
			return err
		}
		op.registry = r
	}
	return nil
}

// WithRegistry sets the kernel configurations to choose from.
// The embedded releases are used by default.
func WithRegistry(r *kernelconfig.Registry) OpOption {
	return func(op *Op) {
		op.registry = r
	}
}

// WithConfigID forces a kernel configuration instead of selecting one
// by the kernel version of the text.
func WithConfigID(id string) OpOption {
	return func(op *Op) {
		op.configID = id
	}
}

// WithoutLogging stops the analyzer from writing its messages to the
// global logger. The messages are still returned in the result.
func WithoutLogging() OpOption {
	return func(op *Op) {
		op.noLog = true
	}
}
