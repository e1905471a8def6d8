package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/meigma/appoci/artifact"
	"github.com/meigma/appoci/internal/log"
	"github.com/meigma/appoci/registry"
)

// PushOption configures a single push.
type PushOption func(*pushConfig)

type pushConfig struct {
	tags      []string
	buildOpts []artifact.BuildOption
}

// WithTags points additional tags at the pushed manifest.
func WithTags(tags ...string) PushOption {
	return func(c *pushConfig) {
		c.tags = append(c.tags, tags...)
	}
}

// WithBuildOptions passes options to the artifact build.
func WithBuildOptions(opts ...artifact.BuildOption) PushOption {
	return func(c *pushConfig) {
		c.buildOpts = append(c.buildOpts, opts...)
	}
}

// PushResult summarizes a push.
type PushResult struct {
	// SessionID identifies the session in logs and progress events.
	SessionID string

	// Ref is the reference the manifest was pushed to, including the tag.
	Ref string

	// Manifest is the pushed artifact.
	Manifest *artifact.Manifest

	// Descriptor describes the pushed manifest.
	Descriptor ocispec.Descriptor

	// Checked is the number of distinct blobs checked against the registry.
	Checked int

	// Skipped is the number of blobs the registry already had.
	Skipped int

	// Uploaded is the number of blobs this session uploaded.
	Uploaded int

	// Shared is the number of blobs uploaded by a concurrent session.
	Shared int

	// BytesUploaded is the total size of the blobs this session uploaded.
	BytesUploaded int64

	// ManifestSkipped is set when the tag already pointed at the manifest.
	ManifestSkipped bool
}

// Push builds app and uploads it to ref.
//
// A ref without a tag is tagged with the application version. Blobs the
// registry already has are not uploaded. The manifest is uploaded only
// after every blob it references is confirmed present, and not at all if
// the tag already points at an identical manifest. A failed push leaves
// uploaded blobs behind and no manifest.
func (e *Engine) Push(ctx context.Context, app *artifact.Application, ref string, opts ...PushOption) (*PushResult, error) {
	var cfg pushConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, s := e.begin(ctx, KindPush, ref)
	res, err := e.push(ctx, s, app, ref, cfg)
	if err != nil {
		return nil, s.fail(err)
	}
	s.enter(StateDone)
	return res, nil
}

func (e *Engine) push(ctx context.Context, s *Session, app *artifact.Application, ref string, cfg pushConfig) (_ *PushResult, err error) {
	r, err := registry.ParseReference(ref)
	if err != nil {
		return nil, err
	}
	for _, tag := range cfg.tags {
		if _, err := registry.ParseReference(r.Repo() + ":" + tag); err != nil || tag == "" {
			return nil, fmt.Errorf("%w: tag %q", registry.ErrInvalidReference, tag)
		}
	}
	done := log.Operation(ctx, "push")
	defer func() { done(err) }()

	release := e.lease()
	defer release()

	s.enter(StateBuilding)
	m, err := e.builder.Build(ctx, app, cfg.buildOpts...)
	if err != nil {
		return nil, err
	}
	if r.Reference == "" {
		tag, err := artifact.DefaultTag(app.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %s has no tag and %w", registry.ErrInvalidReference, ref, err)
		}
		r = r.WithReference(tag)
	}

	res := &PushResult{
		SessionID:  s.ID(),
		Ref:        r.String(),
		Manifest:   m,
		Descriptor: m.Descriptor(),
	}
	paths := layerPaths(m)

	s.enter(StateDiffingRemote)
	missing, err := e.diffRemote(ctx, s, r, m.Blobs(), paths)
	if err != nil {
		return nil, err
	}
	res.Checked = len(m.Blobs())
	res.Skipped = res.Checked - len(missing)

	s.enter(StateUploadingBlobs)
	var mu sync.Mutex
	err = forEach(ctx, e.concurrency, missing, func(ctx context.Context, desc ocispec.Descriptor) error {
		ran, err := e.upload(ctx, s, r, desc)
		if err != nil {
			return s.blobError(desc.Digest, paths[desc.Digest], err)
		}
		mu.Lock()
		defer mu.Unlock()
		if ran {
			res.Uploaded++
			res.BytesUploaded += desc.Size
		} else {
			res.Shared++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enter(StateUploadingManifest)
	current, err := e.client.Resolve(ctx, r.String())
	switch {
	case err == nil && current.Digest == m.Digest():
		res.ManifestSkipped = true
		s.emit(Event{Kind: EventManifestSkipped, Descriptor: m.Descriptor()})
	case err == nil || errors.Is(err, registry.ErrNotFound):
		if _, err := e.client.PushManifest(ctx, r.String(), m.Descriptor(), m.Bytes()); err != nil {
			return nil, err
		}
		s.emit(Event{Kind: EventManifestPushed, Descriptor: m.Descriptor()})
	default:
		return nil, err
	}
	for _, tag := range cfg.tags {
		if err := e.client.Tag(ctx, r.String(), m.Descriptor(), tag); err != nil {
			return nil, fmt.Errorf("tag %s: %w", tag, err)
		}
	}

	slogcontext.Log(ctx, slog.LevelInfo, "artifact pushed",
		log.DescriptorAttr(m.Descriptor()),
		slog.Int("uploaded", res.Uploaded),
		slog.Int("skipped", res.Skipped),
		slog.Bool("manifestSkipped", res.ManifestSkipped))
	return res, nil
}

// diffRemote checks every blob against the registry and returns the ones
// it lacks, in manifest order.
func (e *Engine) diffRemote(ctx context.Context, s *Session, r registry.Reference, blobs []ocispec.Descriptor, paths map[digest.Digest]string) ([]ocispec.Descriptor, error) {
	present := make([]bool, len(blobs))
	indexes := make([]int, len(blobs))
	for i := range indexes {
		indexes[i] = i
	}
	err := forEach(ctx, e.concurrency, indexes, func(ctx context.Context, i int) error {
		ok, err := e.client.BlobExists(ctx, r.String(), blobs[i])
		if err != nil {
			return s.blobError(blobs[i].Digest, paths[blobs[i].Digest], err)
		}
		if ok {
			present[i] = true
			s.confirm(blobs[i].Digest)
			s.emit(Event{Kind: EventBlobPresent, Descriptor: blobs[i]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var missing []ocispec.Descriptor
	for i, desc := range blobs {
		if !present[i] {
			missing = append(missing, desc)
		}
	}
	return missing, nil
}

// upload pushes one blob from the cache, sharing the transfer with any
// other session uploading the same blob to the same repository.
func (e *Engine) upload(ctx context.Context, s *Session, r registry.Reference, desc ocispec.Descriptor) (bool, error) {
	s.start(desc.Digest)
	s.emit(Event{Kind: EventBlobStarted, Descriptor: desc})
	ran, err := e.shared(ctx, flightKey("push", r.Repo(), desc.Digest), func(ctx context.Context) error {
		return e.client.PushBlob(ctx, r.String(), desc, func() (io.ReadCloser, error) {
			return e.cache.Open(desc.Digest)
		})
	})
	if err != nil {
		s.abandon(desc.Digest)
		return false, err
	}
	s.confirm(desc.Digest)
	if ran {
		s.emit(Event{Kind: EventBlobDone, Descriptor: desc})
	} else {
		s.emit(Event{Kind: EventBlobShared, Descriptor: desc})
	}
	return ran, nil
}

// layerPaths names every blob of m for error reports.
func layerPaths(m *artifact.Manifest) map[digest.Digest]string {
	paths := map[digest.Digest]string{m.ConfigDescriptor().Digest: "config"}
	for _, l := range m.Layers() {
		name := l.ComponentID + ": " + string(l.Role)
		if l.Path != "" {
			name += " " + l.Path
		}
		if _, ok := paths[l.Descriptor.Digest]; !ok {
			paths[l.Descriptor.Digest] = name
		}
	}
	return paths
}
