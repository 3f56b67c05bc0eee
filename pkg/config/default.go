package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	DefaultAPIVersion = "v1"
	DefaultPort       = 15133

	DefaultCacheSize = 1024
	// OOM blocks are a few hundred lines, even with thousands of
	// processes in the table they stay well below this
	DefaultMaxBodyBytes = 4 * 1024 * 1024
	DefaultLogLevel     = "info"

	// DefaultConfigFile is read by the serve command when it exists.
	DefaultConfigFile = "~/.oomanalyzer/config.yaml"
)

var DefaultCacheTTL = metav1.Duration{Duration: 10 * time.Minute}

func DefaultConfig(ctx context.Context, opts ...OpOption) (*Config, error) {
	options := &Op{}
	if err := options.ApplyOpts(opts); err != nil {
		return nil, err
	}

	cfg := &Config{
		APIVersion:      DefaultAPIVersion,
		Address:         fmt.Sprintf(":%d", DefaultPort),
		CacheTTL:        DefaultCacheTTL,
		CacheSize:       DefaultCacheSize,
		MaxBodyBytes:    DefaultMaxBodyBytes,
		LogLevel:        DefaultLogLevel,
		LogFile:         options.LogFile,
		KernelConfigDir: options.KernelConfigDir,
	}
	if options.Address != "" {
		cfg.Address = options.Address
	}
	if options.ConfigFile == "" {
		return cfg, nil
	}

	path, err := homedir.Expand(options.ConfigFile)
	if err != nil {
		return nil, err
	}
	loaded, err := LoadConfigYAML(path, cfg)
	if err != nil {
		// the default file is optional
		if errors.Is(err, os.ErrNotExist) && options.ConfigFile == DefaultConfigFile {
			return cfg, nil
		}
		return nil, err
	}
	return loaded, nil
}

// DefaultConfigDir returns "~/.oomanalyzer", expanded.
func DefaultConfigDir() (string, error) {
	homeDir, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".oomanalyzer"), nil
}
