package registry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/meigma/appoci/registry/oras"
)

// Option configures a Client.
type Option func(*Client)

// WithOCIClient sets a custom OCI client implementation.
// Pass-through ORAS options are ignored when a custom client is set.
func WithOCIClient(oci OCIClient) Option {
	return func(c *Client) {
		c.oci = oci
	}
}

// WithLogger sets the logger used when the call context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithTimeout bounds each attempt of a remote call. Zero disables the
// per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithPlainHTTP enables plain HTTP (no TLS) for registries.
func WithPlainHTTP(enabled bool) Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, oras.WithPlainHTTP(enabled))
	}
}

// WithDockerConfig reads credentials from ~/.docker/config.json and
// configured credential helpers.
func WithDockerConfig() Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, oras.WithDockerConfig())
	}
}

// WithStaticCredentials sets username/password credentials for one registry.
func WithStaticCredentials(registry, username, password string) Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, oras.WithStaticCredentials(registry, username, password))
	}
}

// WithStaticToken sets a bearer token for one registry.
func WithStaticToken(registry, token string) Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, oras.WithStaticToken(registry, token))
	}
}

// WithBearerToken presents a pre-issued bearer token to every registry.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, oras.WithBearerToken(token))
	}
}

// WithAnonymous disables all authentication.
func WithAnonymous() Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, oras.WithAnonymous())
	}
}

// WithUserAgent sets the User-Agent header for requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, oras.WithUserAgent(ua))
	}
}

// WithHTTPClient sets the HTTP client used for registry requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, oras.WithHTTPClient(hc))
	}
}
