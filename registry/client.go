package registry

import (
	"context"
	"log/slog"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/meigma/appoci/registry/oras"
)

// Client moves blobs and manifests between the caller and an OCI registry.
//
// All methods take full references ("registry/repository[:tag|@digest]")
// and are safe for concurrent use.
type Client struct {
	oci     OCIClient
	logger  *slog.Logger
	retry   RetryPolicy
	timeout time.Duration

	// orasOpts are options passed through to the ORAS client when
	// no custom OCIClient is provided.
	orasOpts []oras.Option
}

// New creates a registry client with the given options.
//
// If no OCIClient is provided via WithOCIClient, a default ORAS-based
// client is created using any pass-through options (WithPlainHTTP, etc.).
func New(opts ...Option) *Client {
	c := &Client{
		retry:   DefaultRetryPolicy(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.oci == nil {
		c.oci = oras.New(c.orasOpts...)
	}
	return c
}

// RetryPolicy returns the client's retry policy.
func (c *Client) RetryPolicy() RetryPolicy {
	return c.retry
}

// logCtx attaches the client's logger to ctx unless the caller already
// carries one.
func (c *Client) logCtx(ctx context.Context) context.Context {
	if c.logger == nil {
		return ctx
	}
	if l := slogcontext.FromCtx(ctx); l != nil && l != slog.Default() {
		return ctx
	}
	return slogcontext.NewCtx(ctx, c.logger)
}
