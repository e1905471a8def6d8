package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/meigma/appoci/cache"
	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/log"
	"github.com/meigma/appoci/internal/pathutil"
)

// DefaultDecoderMaxMemory bounds the memory a zstd decoder may use while
// extracting an asset archive.
const DefaultDecoderMaxMemory = 256 << 20

// SourceIndex remembers digests of source files between builds.
//
// Lookups only hit when the stamp recorded with the digest equals the
// current stamp. cache/disk.SourceIndex implements it.
type SourceIndex interface {
	Lookup(key, stamp string) (digest.Digest, bool)
	Record(key, stamp string, dgst digest.Digest) error
}

// Builder turns applications into artifacts and artifacts back into files.
//
// Every blob a build produces is staged in the cache, so a push can stream
// layers from the cache and a pull can materialize from it.
type Builder struct {
	cache            cache.Cache
	sources          SourceIndex
	splitThreshold   int64
	maxDecoderMemory uint64
}

// Option configures a Builder.
type Option func(*Builder)

// WithSourceIndex enables reuse of digests for unchanged source files.
func WithSourceIndex(idx SourceIndex) Option {
	return func(b *Builder) {
		b.sources = idx
	}
}

// WithAssetSplitThreshold stores assets of at least n bytes as their own
// layer instead of adding them to the component's asset archive.
// Zero disables splitting, which is the default.
func WithAssetSplitThreshold(n int64) Option {
	return func(b *Builder) {
		b.splitThreshold = n
	}
}

// WithDecoderMaxMemory limits zstd decoder memory during materialization.
// Zero uses DefaultDecoderMaxMemory.
func WithDecoderMaxMemory(n uint64) Option {
	return func(b *Builder) {
		b.maxDecoderMemory = n
	}
}

// NewBuilder creates a Builder that stages blobs in c.
func NewBuilder(c cache.Cache, opts ...Option) *Builder {
	b := &Builder{
		cache:            c,
		maxDecoderMemory: DefaultDecoderMaxMemory,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxDecoderMemory == 0 {
		b.maxDecoderMemory = DefaultDecoderMaxMemory
	}
	return b
}

// BuildOption configures a single Build call.
type BuildOption func(*buildConfig)

type buildConfig struct {
	annotations map[string]string
	created     time.Time
}

// WithAnnotations sets custom annotations on the manifest.
//
// The title and version annotations derived from the application can be
// overridden.
func WithAnnotations(annotations map[string]string) BuildOption {
	return func(cfg *buildConfig) {
		if cfg.annotations == nil {
			cfg.annotations = make(map[string]string)
		}
		for k, v := range annotations {
			cfg.annotations[k] = v
		}
	}
}

// WithCreated records t as the org.opencontainers.image.created annotation.
//
// Builds are reproducible only when this option is absent or t is fixed.
func WithCreated(t time.Time) BuildOption {
	return func(cfg *buildConfig) {
		cfg.created = t
	}
}

// assetEntry is one file destined for the materialized tree.
type assetEntry struct {
	path   string
	digest digest.Digest
	size   int64
}

// Build validates app, stages every blob in the cache and returns the
// artifact manifest.
//
// Building unchanged sources twice produces the same manifest digest.
func (b *Builder) Build(ctx context.Context, app *Application, opts ...BuildOption) (m *Manifest, err error) {
	done := log.Operation(ctx, "build artifact", slog.String("app", app.Name))
	defer func() { done(err) }()

	if err := app.Validate(); err != nil {
		return nil, err
	}
	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	claimed := make(map[string]string)
	claim := func(p, owner string) error {
		if prev, ok := claimed[p]; ok {
			return fmt.Errorf("%w: %q used by %s and %s", ErrPathConflict, p, prev, owner)
		}
		claimed[p] = owner
		return nil
	}

	var layers []Layer
	components := make([]ComponentConfig, 0, len(app.Components))
	for i := range app.Components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := &app.Components[i]
		owner := "component " + c.ID

		binPath, err := pathutil.Clean(c.binaryPath())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidApplication, owner, err)
		}
		if err := claim(binPath, owner); err != nil {
			return nil, err
		}
		desc, err := b.stageComponent(ctx, app.Root, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", owner, err)
		}
		layers = append(layers, newLayer(desc, RoleComponent, c.ID, binPath))

		entries, err := b.stageAssets(ctx, app.Root, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", owner, err)
		}
		var assetPaths []string
		var archived []assetEntry
		for _, e := range entries {
			if err := claim(e.path, owner); err != nil {
				return nil, err
			}
			assetPaths = append(assetPaths, e.path)
			if b.splitThreshold > 0 && e.size >= b.splitThreshold {
				layers = append(layers, newLayer(ocispec.Descriptor{Digest: e.digest, Size: e.size}, RoleAsset, c.ID, e.path))
				continue
			}
			archived = append(archived, e)
		}
		if len(archived) > 0 {
			desc, err := b.stageArchive(ctx, archived)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", owner, err)
			}
			layers = append(layers, newLayer(desc, RoleAssets, c.ID, ""))
		}

		components = append(components, ComponentConfig{
			ID:          c.ID,
			Path:        binPath,
			Assets:      assetPaths,
			Environment: c.Environment,
		})
	}

	for p, owner := range claimed {
		for _, dir := range parents(p) {
			if prev, ok := claimed[dir]; ok {
				return nil, fmt.Errorf("%w: %q, parent of %q from %s, is a file of %s", ErrPathConflict, dir, p, owner, prev)
			}
		}
	}

	config := newConfig(app, components)
	configBytes, err := config.encode()
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := b.cache.Write(content.Digest(configBytes), bytes.NewReader(configBytes)); err != nil {
		return nil, fmt.Errorf("stage config: %w", err)
	}

	annotations := map[string]string{ocispec.AnnotationTitle: app.Name}
	if app.Version != "" {
		annotations[ocispec.AnnotationVersion] = app.Version
	}
	if !cfg.created.IsZero() {
		annotations[ocispec.AnnotationCreated] = cfg.created.UTC().Format(time.RFC3339)
	}
	for k, v := range cfg.annotations {
		annotations[k] = v
	}

	m, err = newManifest(config, configBytes, layers, annotations)
	if err != nil {
		return nil, err
	}
	slogcontext.Log(ctx, slog.LevelDebug, "artifact built",
		log.DescriptorAttr(m.Descriptor()),
		slog.Int("layers", len(layers)))
	return m, nil
}

// stageComponent stages the component binary and returns its descriptor.
func (b *Builder) stageComponent(ctx context.Context, root string, c *Component) (ocispec.Descriptor, error) {
	var (
		dgst digest.Digest
		size int64
		err  error
	)
	switch src := c.Source.(type) {
	case FileComponent:
		dgst, size, err = b.stageFile(resolve(root, src.Path))
	case InlineComponent:
		dgst, size, err = b.stageBytes(src.Data)
	default:
		err = fmt.Errorf("%w: unsupported source %T", ErrInvalidApplication, src)
	}
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{MediaType: MediaTypeComponent, Digest: dgst, Size: size}
	slogcontext.Log(ctx, slog.LevelDebug, "component staged", slog.String("component", c.ID), log.DescriptorAttr(desc))
	return desc, nil
}

// stageAssets stages every asset file of c and returns them sorted by path.
func (b *Builder) stageAssets(ctx context.Context, root string, c *Component) ([]assetEntry, error) {
	var entries []assetEntry
	for _, asset := range c.Assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest, err := pathutil.Clean(asset.destination())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidApplication, err)
		}
		switch src := asset.(type) {
		case InlineAsset:
			dgst, size, err := b.stageBytes(src.Data)
			if err != nil {
				return nil, err
			}
			entries = append(entries, assetEntry{path: dest, digest: dgst, size: size})
		case FileAsset:
			files, err := expandAsset(resolve(root, src.Path), dest)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				dgst, size, err := b.stageFile(f.source)
				if err != nil {
					return nil, err
				}
				entries = append(entries, assetEntry{path: f.path, digest: dgst, size: size})
			}
		default:
			return nil, fmt.Errorf("%w: unsupported asset %T", ErrInvalidApplication, src)
		}
	}
	slices.SortFunc(entries, func(x, y assetEntry) int {
		return strings.Compare(x.path, y.path)
	})
	return entries, nil
}

type assetFile struct {
	source string
	path   string
}

// expandAsset lists the regular files of a file or directory asset.
func expandAsset(source, dest string) ([]assetFile, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", source, err)
	}
	if info.Mode().IsRegular() {
		return []assetFile{{source: source, path: dest}}, nil
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset %s: not a regular file or directory", source)
	}

	var files []assetFile
	err = filepath.WalkDir(source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		files = append(files, assetFile{source: p, path: path.Join(dest, filepath.ToSlash(rel))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", source, err)
	}
	return files, nil
}

// stageFile hashes a source file into the cache. Unchanged files known to
// the source index are not read again.
func (b *Builder) stageFile(name string) (digest.Digest, int64, error) {
	key, err := filepath.Abs(name)
	if err != nil {
		return "", 0, err
	}
	info, err := os.Stat(key)
	if err != nil {
		return "", 0, err
	}
	if !info.Mode().IsRegular() {
		return "", 0, fmt.Errorf("%s: not a regular file", name)
	}
	stamp := fileStamp(info)
	if b.sources != nil {
		if dgst, ok := b.sources.Lookup(key, stamp); ok && b.cache.Has(dgst) {
			return dgst, info.Size(), nil
		}
	}

	f, err := os.Open(key) //nolint:gosec // caller-supplied source path
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	dgst, size, err := b.cache.Ingest(f)
	if err != nil {
		return "", 0, fmt.Errorf("stage %s: %w", name, err)
	}
	if size != info.Size() {
		return "", 0, fmt.Errorf("stage %s: file changed while reading", name)
	}
	if b.sources != nil {
		// The index is an optimization; failing to record only costs a
		// re-hash next time.
		_ = b.sources.Record(key, stamp, dgst)
	}
	return dgst, size, nil
}

func (b *Builder) stageBytes(data []byte) (digest.Digest, int64, error) {
	dgst := content.Digest(data)
	if err := b.cache.Write(dgst, bytes.NewReader(data)); err != nil {
		return "", 0, err
	}
	return dgst, int64(len(data)), nil
}

func fileStamp(info fs.FileInfo) string {
	return fmt.Sprintf("%d:%d:%o", info.Size(), info.ModTime().UnixNano(), info.Mode())
}
