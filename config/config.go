// Package config loads appoci settings from a YAML file and the
// environment.
//
// Values are resolved in order: built-in defaults, then the file named by
// the caller or by APPOCI_CONFIG, then APPOCI_* environment variables.
// A missing file is only an error when a path was given explicitly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "APPOCI_CONFIG"

// Environment variables that override file values.
const (
	EnvCacheDir            = "APPOCI_CACHE_DIR"
	EnvCacheMaxBytes       = "APPOCI_CACHE_MAX_BYTES"
	EnvConcurrency         = "APPOCI_CONCURRENCY"
	EnvTimeout             = "APPOCI_TIMEOUT"
	EnvRetryMaxAttempts    = "APPOCI_RETRY_MAX_ATTEMPTS"
	EnvRetryInitialBackoff = "APPOCI_RETRY_INITIAL_BACKOFF"
	EnvPlainHTTP           = "APPOCI_PLAIN_HTTP"
	EnvUserAgent           = "APPOCI_USER_AGENT"
	EnvAssetSplitThreshold = "APPOCI_ASSET_SPLIT_THRESHOLD"
)

// ErrInvalidConfig is returned when a config file or override is malformed
// or a value is out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds every tunable of an appoci client.
type Config struct {
	// Cache configures the local blob cache.
	Cache CacheConfig `yaml:"cache"`

	// Transfer configures the push and pull engine.
	Transfer TransferConfig `yaml:"transfer"`

	// Retry configures retries of remote calls.
	Retry RetryConfig `yaml:"retry"`

	// Registry configures the registry transport.
	Registry RegistryConfig `yaml:"registry"`

	// Assets configures asset packaging.
	Assets AssetsConfig `yaml:"assets"`
}

// CacheConfig configures the local blob cache.
type CacheConfig struct {
	// Dir is the cache root. Default: <user cache dir>/appoci.
	Dir string `yaml:"dir"`

	// MaxBytes is the size the cache is pruned down to. Zero means
	// unbounded.
	MaxBytes int64 `yaml:"max_bytes"`
}

// TransferConfig configures the push and pull engine.
type TransferConfig struct {
	// Concurrency bounds parallel blob checks and transfers. Default: 4.
	Concurrency int `yaml:"concurrency"`

	// Timeout bounds a single attempt of a remote call. Default: 5m.
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig configures retries of remote calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per call. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry; later delays
	// double. Default: 250ms.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// RegistryConfig configures the registry transport.
type RegistryConfig struct {
	// PlainHTTP talks to registries without TLS.
	PlainHTTP bool `yaml:"plain_http"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`
}

// AssetsConfig configures asset packaging.
type AssetsConfig struct {
	// SplitThreshold gives assets of at least this many bytes their own
	// layer. Zero keeps all assets of a component in one archive.
	SplitThreshold int64 `yaml:"split_threshold"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return &Config{
		Cache: CacheConfig{
			Dir: filepath.Join(dir, "appoci"),
		},
		Transfer: TransferConfig{
			Concurrency: 4,
			Timeout:     5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 250 * time.Millisecond,
		},
		Registry: RegistryConfig{
			UserAgent: "appoci/1.0",
		},
	}
}

// Load resolves the configuration. If path is empty the file named by
// APPOCI_CONFIG is used, and no file at all is fine.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path == "" {
		path, _ = lookup(EnvConfig)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.Cache.Dir = expandHome(cfg.Cache.Dir, lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the YAML file at path over c. Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return c.decode(data)
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// applyEnv overrides c with any APPOCI_* variables that are set.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	parse := func(name string, set func(string) error) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, name, v, err))
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			*dst = n
			return err
		}
	}
	int64s := func(dst *int64) func(string) error {
		return func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			*dst = n
			return err
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			*dst = d
			return err
		}
	}

	str(EnvCacheDir, &c.Cache.Dir)
	parse(EnvCacheMaxBytes, int64s(&c.Cache.MaxBytes))
	parse(EnvConcurrency, integer(&c.Transfer.Concurrency))
	parse(EnvTimeout, duration(&c.Transfer.Timeout))
	parse(EnvRetryMaxAttempts, integer(&c.Retry.MaxAttempts))
	parse(EnvRetryInitialBackoff, duration(&c.Retry.InitialBackoff))
	parse(EnvPlainHTTP, func(v string) error {
		b, err := strconv.ParseBool(v)
		c.Registry.PlainHTTP = b
		return err
	})
	str(EnvUserAgent, &c.Registry.UserAgent)
	parse(EnvAssetSplitThreshold, int64s(&c.Assets.SplitThreshold))

	return errors.Join(errs...)
}

// Validate checks that every value is in range.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir is required"))
	}
	if c.Cache.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_bytes must not be negative, got %d", c.Cache.MaxBytes))
	}
	if c.Transfer.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("transfer.concurrency must be at least 1, got %d", c.Transfer.Concurrency))
	}
	if c.Transfer.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transfer.timeout must not be negative, got %s", c.Transfer.Timeout))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry.initial_backoff must not be negative, got %s", c.Retry.InitialBackoff))
	}
	if c.Assets.SplitThreshold < 0 {
		errs = append(errs, fmt.Errorf("assets.split_threshold must not be negative, got %d", c.Assets.SplitThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// expandHome replaces a leading ~ with the home directory.
func expandHome(p string, lookup func(string) (string, bool)) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, ok := lookup("HOME")
	if !ok || home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return p
		}
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
