package kernelconfig

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/leptonai/oomanalyzer/pkg/errdefs"
)

// ErrNoMatchingConfig is returned by Select when no release covers the
// kernel version. The fallback configuration is returned with it.
var ErrNoMatchingConfig = errors.New("no matching kernel configuration")

// Registry is the ordered set of release configurations.
// It is immutable and safe for concurrent use.
type Registry struct {
	// selection order, fallback last
	configs  []*Config
	byID     map[string]*Config
	fallback *Config
}

// New resolves and compiles the given release files. Later files replace
// earlier files with the same id, which is how an extra release directory
// patches the embedded data. Exactly one file must be the fallback.
func New(files ...File) (*Registry, error) {
	byID := make(map[string]File, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	resolved, err := resolveAll(byID)
	if err != nil {
		return nil, err
	}

	r := &Registry{byID: make(map[string]*Config, len(resolved))}
	for id, m := range resolved {
		c, err := compile(m)
		if err != nil {
			return nil, fmt.Errorf("release %q: %w", id, err)
		}
		r.byID[id] = c
		if c.fallback {
			if r.fallback != nil {
				return nil, fmt.Errorf("releases %q and %q are both marked as fallback", r.fallback.id, c.id)
			}
			r.fallback = c
			continue
		}
		r.configs = append(r.configs, c)
	}
	if r.fallback == nil {
		return nil, errors.New("no fallback release")
	}

	sortConfigs(r.configs)
	r.configs = append(r.configs, r.fallback)
	return r, nil
}

// sortConfigs orders newest first; for the same major.minor a
// distribution specific (suffixed) release comes before the generic one,
// since the first covering configuration wins.
func sortConfigs(cs []*Config) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i].release, cs[j].release
		if a.Major != b.Major {
			return a.Major > b.Major
		}
		if a.Minor != b.Minor {
			return a.Minor > b.Minor
		}
		if (a.Suffix != "") != (b.Suffix != "") {
			return a.Suffix != ""
		}
		return cs[i].id < cs[j].id
	})
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry built from the embedded release files.
// It is built once per process.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		files, err := LoadEmbedded()
		if err != nil {
			defaultErr = err
			return
		}
		defaultRegistry, defaultErr = New(files...)
	})
	return defaultRegistry, defaultErr
}

// NewWithDir builds a registry from the embedded release files plus the
// files of dir. An empty dir returns Default().
func NewWithDir(dir string) (*Registry, error) {
	if dir == "" {
		return Default()
	}
	files, err := LoadEmbedded()
	if err != nil {
		return nil, err
	}
	extra, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return New(append(files, extra...)...)
}

// Configs returns the configurations in selection order.
func (r *Registry) Configs() []*Config {
	return append([]*Config(nil), r.configs...)
}

// Fallback returns the configuration used when no release matches.
func (r *Registry) Fallback() *Config {
	return r.fallback
}

// Get returns the configuration with the given id.
func (r *Registry) Get(id string) (*Config, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("kernel config %q: %w", id, errdefs.ErrNotFound)
	}
	return c, nil
}

// Select returns the first configuration covering the kernel version.
// The returned configuration is never nil: on ErrUnparseableVersion or
// ErrNoMatchingConfig it is the fallback, and the error is meant to be
// surfaced as a warning.
func (r *Registry) Select(kernelVersion string) (*Config, error) {
	v, err := ParseVersion(kernelVersion)
	if err != nil {
		return r.fallback, err
	}
	for _, c := range r.configs {
		if c.Covers(v, kernelVersion) {
			return c, nil
		}
	}
	return r.fallback, fmt.Errorf("%w for kernel %q", ErrNoMatchingConfig, kernelVersion)
}
