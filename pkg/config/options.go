package config

type Op struct {
	// ConfigFile is loaded over the defaults, "~" is expanded.
	ConfigFile string

	Address         string
	LogFile         string
	KernelConfigDir string
}

type OpOption func(*Op)

func (op *Op) ApplyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}

	return nil
}

// WithConfigFile loads a YAML file over the defaults.
func WithConfigFile(file string) OpOption {
	return func(op *Op) {
		op.ConfigFile = file
	}
}

func WithAddress(addr string) OpOption {
	return func(op *Op) {
		op.Address = addr
	}
}

func WithLogFile(file string) OpOption {
	return func(op *Op) {
		op.LogFile = file
	}
}

// WithKernelConfigDir loads extra kernel release files from dir.
func WithKernelConfigDir(dir string) OpOption {
	return func(op *Op) {
		op.KernelConfigDir = dir
	}
}
