package transfer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opencontainers/go-digest"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/appoci/artifact"
	"github.com/meigma/appoci/cache"
	"github.com/meigma/appoci/registry"
)

// DefaultConcurrency is the number of blobs checked or transferred at once.
const DefaultConcurrency = 4

// Engine runs push and pull sessions. It is safe for concurrent use;
// sessions share the cache, the registry client and in-flight transfers.
type Engine struct {
	cache       cache.Cache
	builder     *artifact.Builder
	client      *registry.Client
	concurrency int
	verify      bool
	logger      *slog.Logger
	progress    ProgressFunc
	flights     singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds parallel blob checks and transfers per session.
// Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger. Each session logs through a child logger
// carrying its id and reference.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithProgress registers a callback for progress events.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// WithVerifyCache re-hashes cached blobs before a pull trusts them.
// Corrupt entries are dropped and downloaded again. It requires a cache
// with a Verify method, such as cache/disk.
func WithVerifyCache(enabled bool) Option {
	return func(e *Engine) {
		e.verify = enabled
	}
}

// New creates an Engine. The builder must stage blobs in c.
func New(c cache.Cache, b *artifact.Builder, client *registry.Client, opts ...Option) *Engine {
	e := &Engine{
		cache:       c,
		builder:     b,
		client:      client,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// log returns the logger, falling back to a discard logger if nil.
func (e *Engine) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}

// begin starts a session and returns a context carrying its logger.
func (e *Engine) begin(ctx context.Context, kind Kind, ref string) (context.Context, *Session) {
	s := newSession(kind, ref, e.progress)
	logger := e.log().With(
		slog.String("session", s.ID()),
		slog.String("op", string(kind)),
		slog.String("ref", ref),
	)
	return slogcontext.NewCtx(ctx, logger), s
}

// lease keeps cached blobs from being pruned while a session uses them.
func (e *Engine) lease() func() {
	if l, ok := e.cache.(interface{ Lease() func() }); ok {
		return l.Lease()
	}
	return func() {}
}

// forEach runs fn for every item on the bounded worker pool and
// returns the first error. No new work starts once ctx is done or a call
// has failed.
func forEach[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// shared runs fn at most once at a time per key across all sessions.
// Callers arriving while fn runs wait for its result; ran reports whether
// this caller executed fn. A caller whose own context is live retries when
// the transfer it joined was cancelled by its originator.
func (e *Engine) shared(ctx context.Context, key string, fn func(ctx context.Context) error) (ran bool, err error) {
	for {
		executed := false
		ch := e.flights.DoChan(key, func() (any, error) {
			executed = true
			return nil, fn(ctx)
		})
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case res := <-ch:
			if res.Err != nil && !executed && ctx.Err() == nil && errors.Is(res.Err, context.Canceled) {
				continue
			}
			return executed, res.Err
		}
	}
}

func flightKey(op, repo string, d digest.Digest) string {
	return op + " " + repo + " " + d.String()
}
