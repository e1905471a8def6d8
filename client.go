package appoci

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/meigma/appoci/artifact"
	"github.com/meigma/appoci/cache"
	"github.com/meigma/appoci/cache/disk"
	"github.com/meigma/appoci/config"
	"github.com/meigma/appoci/registry"
	"github.com/meigma/appoci/transfer"
)

// Client pushes and pulls applications.
//
// A Client is safe for concurrent use. Concurrent pushes and pulls share
// the cache and never transfer the same blob twice at the same time.
type Client struct {
	settings  config.Config
	regOpts   []registry.Option
	cache     cache.Cache
	verify    bool
	logger    *slog.Logger
	progress  ProgressFunc
	registry  *registry.Client
	builder   *artifact.Builder
	engine    *transfer.Engine
	diskCache *disk.Cache
}

// NewClient creates a client with the given options.
//
// Without options the client uses config.Default: a disk cache under the
// user cache directory and anonymous registry access. Use [WithDockerConfig]
// to read credentials from ~/.docker/config.json.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{settings: *config.Default()}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.settings.Validate(); err != nil {
		return nil, err
	}

	if c.cache == nil {
		dc, err := disk.New(c.settings.Cache.Dir, disk.WithMaxBytes(c.settings.Cache.MaxBytes))
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		c.cache = dc
	}
	if dc, ok := c.cache.(*disk.Cache); ok {
		c.diskCache = dc
	}

	c.registry = registry.New(c.registryOptions()...)
	builderOpts := []artifact.Option{artifact.WithAssetSplitThreshold(c.settings.Assets.SplitThreshold)}
	if c.diskCache != nil {
		idx, err := c.diskCache.SourceIndex()
		if err != nil {
			return nil, fmt.Errorf("open source index: %w", err)
		}
		builderOpts = append(builderOpts, artifact.WithSourceIndex(idx))
	}
	c.builder = artifact.NewBuilder(c.cache, builderOpts...)
	c.engine = transfer.New(c.cache, c.builder, c.registry,
		transfer.WithConcurrency(c.settings.Transfer.Concurrency),
		transfer.WithVerifyCache(c.verify),
		transfer.WithLogger(c.logger),
		transfer.WithProgress(c.progress),
	)
	return c, nil
}

// registryOptions turns the settings into registry client options.
// Explicit options given to NewClient come last and win.
func (c *Client) registryOptions() []registry.Option {
	s := c.settings
	policy := registry.RetryPolicy{MaxAttempts: s.Retry.MaxAttempts}
	if s.Retry.InitialBackoff > 0 {
		policy.Backoff = retry.ExponentialBackoff(s.Retry.InitialBackoff, 2, 0.2)
	}
	opts := []registry.Option{
		registry.WithRetryPolicy(policy),
		registry.WithTimeout(s.Transfer.Timeout),
		registry.WithPlainHTTP(s.Registry.PlainHTTP),
		registry.WithLogger(c.logger),
	}
	if s.Registry.UserAgent != "" {
		opts = append(opts, registry.WithUserAgent(s.Registry.UserAgent))
	}
	return append(opts, c.regOpts...)
}

// Build builds app into the cache without pushing it.
func (c *Client) Build(ctx context.Context, app *Application, opts ...BuildOption) (*Manifest, error) {
	return c.builder.Build(ctx, app, opts...)
}

// Materialize writes a built or fetched artifact into dest. Every blob
// must already be cached.
func (c *Client) Materialize(ctx context.Context, m *Manifest, dest string) error {
	return c.builder.Materialize(ctx, m, dest)
}

// Resolve returns the manifest descriptor a reference points at.
func (c *Client) Resolve(ctx context.Context, ref string) (ocispec.Descriptor, error) {
	return c.registry.Resolve(ctx, ref)
}

// Tag points tag at the manifest ref resolves to.
func (c *Client) Tag(ctx context.Context, ref, tag string) error {
	desc, err := c.registry.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	return c.registry.Tag(ctx, ref, desc, tag)
}

// Cache returns the client's blob cache.
func (c *Client) Cache() cache.Cache {
	return c.cache
}

// ErrPruneUnsupported is returned by Prune when the cache cannot be pruned.
var ErrPruneUnsupported = errors.New("appoci: cache does not support pruning")

// Prune evicts least recently used blobs until the cache is at most
// targetBytes. A negative target prunes to the configured cache limit.
// Pruning waits for in-progress pushes and pulls to finish.
func (c *Client) Prune(targetBytes int64) (int64, error) {
	if c.diskCache == nil {
		return 0, ErrPruneUnsupported
	}
	if targetBytes < 0 {
		return c.diskCache.PruneToLimit()
	}
	return c.diskCache.Prune(targetBytes)
}

// CacheSize returns the bytes held by the cache, or -1 when unknown.
func (c *Client) CacheSize() int64 {
	if c.diskCache == nil {
		return -1
	}
	return c.diskCache.SizeBytes()
}
