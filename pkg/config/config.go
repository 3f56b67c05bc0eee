// Package config provides the configuration of the analyzer server.
package config

import (
	"errors"
	"fmt"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/leptonai/oomanalyzer/pkg/log"
)

// Config provides the analyzer server configuration data.
type Config struct {
	APIVersion string `json:"api_version"`

	// Address for the server to listen on.
	Address string `json:"address"`

	// How long an analysis result is served from the cache.
	// Set 0 to disable the cache.
	CacheTTL metav1.Duration `json:"cache_ttl"`
	// Maximum number of cached results. Once reached, new results are
	// not cached until older ones expire.
	CacheSize int `json:"cache_size"`

	// Requests with a larger body are rejected with 413.
	MaxBodyBytes int64 `json:"max_body_bytes"`

	LogLevel string `json:"log_level"`
	// Log file, rotated. Empty logs to stderr.
	LogFile string `json:"log_file"`

	// Directory of extra kernel release files loaded next to the
	// embedded ones. A file with an embedded id replaces it.
	KernelConfigDir string `json:"kernel_config_dir"`

	// Set true to enable profiler.
	Pprof bool `json:"pprof"`
}

var (
	ErrAddressRequired = errors.New("address is required")
	ErrInvalidCacheTTL = errors.New("cache_ttl must not be negative")
)

func (config *Config) Validate() error {
	if config.Address == "" {
		return ErrAddressRequired
	}
	if config.CacheTTL.Duration < 0 {
		return ErrInvalidCacheTTL
	}
	if config.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", config.CacheSize)
	}
	if config.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", config.MaxBodyBytes)
	}
	if _, err := log.ParseLogLevel(config.LogLevel); err != nil {
		return err
	}
	if config.KernelConfigDir != "" {
		info, err := os.Stat(config.KernelConfigDir)
		if err != nil {
			return fmt.Errorf("kernel_config_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("kernel_config_dir %q is not a directory", config.KernelConfigDir)
		}
	}
	return nil
}

// LoadConfigYAML reads a configuration file. Unset fields keep the
// values of base, unknown fields are an error.
func LoadConfigYAML(file string, base *Config) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	cfg := *base
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", file, err)
	}
	return &cfg, nil
}

// YAML encodes the configuration.
func (config *Config) YAML() ([]byte, error) {
	return yaml.Marshal(config)
}
