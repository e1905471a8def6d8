package appoci

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/meigma/appoci/cache"
	"github.com/meigma/appoci/config"
	"github.com/meigma/appoci/registry"
)

// Option configures a Client.
type Option func(*Client) error

// --- Configuration ---

// WithConfig replaces every setting with cfg. Options that follow it
// override individual settings.
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) error {
		if cfg == nil {
			return errors.New("appoci: nil config")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.settings = *cfg
		return nil
	}
}

// WithConfigFile loads settings from a YAML file and the environment, as
// config.Load does.
func WithConfigFile(path string) Option {
	return func(c *Client) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		c.settings = *cfg
		return nil
	}
}

// --- Authentication Options ---

// WithDockerConfig enables reading credentials from ~/.docker/config.json.
// This is the recommended way to authenticate with registries.
func WithDockerConfig() Option {
	return registryOption(registry.WithDockerConfig())
}

// WithStaticCredentials sets static username/password credentials for a registry.
// The registry parameter should be the registry host (e.g., "ghcr.io").
func WithStaticCredentials(host, username, password string) Option {
	return registryOption(registry.WithStaticCredentials(host, username, password))
}

// WithStaticToken sets a static bearer token for a registry.
// The registry parameter should be the registry host (e.g., "ghcr.io").
func WithStaticToken(host, token string) Option {
	return registryOption(registry.WithStaticToken(host, token))
}

// WithBearerToken presents a pre-issued bearer token to every registry.
func WithBearerToken(token string) Option {
	return registryOption(registry.WithBearerToken(token))
}

// WithAnonymous forces anonymous access, ignoring any configured credentials.
func WithAnonymous() Option {
	return registryOption(registry.WithAnonymous())
}

// --- Transport Options ---

// WithPlainHTTP enables plain HTTP (no TLS) for registries.
// This is useful for local development registries.
func WithPlainHTTP(enabled bool) Option {
	return func(c *Client) error {
		c.settings.Registry.PlainHTTP = enabled
		return nil
	}
}

// WithUserAgent sets the User-Agent header for registry requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.settings.Registry.UserAgent = ua
		return nil
	}
}

// WithHTTPClient sets the HTTP client used to reach registries.
func WithHTTPClient(hc *http.Client) Option {
	return registryOption(registry.WithHTTPClient(hc))
}

// WithOCIClient replaces the registry transport. Authentication and
// transport options are ignored when it is set.
func WithOCIClient(oci registry.OCIClient) Option {
	return registryOption(registry.WithOCIClient(oci))
}

// WithTimeout bounds each attempt of a remote call. Zero disables the
// per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("appoci: timeout must be non-negative")
		}
		c.settings.Transfer.Timeout = d
		return nil
	}
}

// WithRetry sets the number of attempts per remote call and the delay
// before the first retry. Later delays double.
func WithRetry(maxAttempts int, initialBackoff time.Duration) Option {
	return func(c *Client) error {
		if maxAttempts < 1 {
			return errors.New("appoci: max attempts must be at least 1")
		}
		if initialBackoff < 0 {
			return errors.New("appoci: backoff must be non-negative")
		}
		c.settings.Retry.MaxAttempts = maxAttempts
		c.settings.Retry.InitialBackoff = initialBackoff
		return nil
	}
}

// WithConcurrency bounds parallel blob checks and transfers per push or pull.
func WithConcurrency(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("appoci: concurrency must be at least 1")
		}
		c.settings.Transfer.Concurrency = n
		return nil
	}
}

// --- Caching Options ---

// WithCacheDir stores blobs in a disk cache rooted at dir.
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		if dir == "" {
			return errors.New("appoci: empty cache dir")
		}
		c.settings.Cache.Dir = dir
		return nil
	}
}

// WithCacheMaxBytes sets the size [Client.Prune] trims the disk cache to
// when called with a negative target. Zero means unbounded.
func WithCacheMaxBytes(n int64) Option {
	return func(c *Client) error {
		if n < 0 {
			return errors.New("appoci: cache max bytes must be non-negative")
		}
		c.settings.Cache.MaxBytes = n
		return nil
	}
}

// WithCache sets a custom cache implementation. The cache settings are
// ignored when it is set.
func WithCache(cc cache.Cache) Option {
	return func(c *Client) error {
		c.cache = cc
		return nil
	}
}

// WithVerifyCache re-hashes cached blobs before a pull trusts them.
func WithVerifyCache(enabled bool) Option {
	return func(c *Client) error {
		c.verify = enabled
		return nil
	}
}

// --- Packaging Options ---

// WithAssetSplitThreshold gives assets of at least n bytes their own layer.
// Zero keeps every asset of a component in one archive.
func WithAssetSplitThreshold(n int64) Option {
	return func(c *Client) error {
		if n < 0 {
			return errors.New("appoci: asset split threshold must be non-negative")
		}
		c.settings.Assets.SplitThreshold = n
		return nil
	}
}

// --- Observability Options ---

// WithLogger sets a logger for the client.
// The logger is propagated to the registry client and the transfer engine.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithProgress registers a callback for push and pull progress.
// The callback may be invoked from several goroutines at once.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) error {
		c.progress = fn
		return nil
	}
}

func registryOption(opt registry.Option) Option {
	return func(c *Client) error {
		c.regOpts = append(c.regOpts, opt)
		return nil
	}
}
