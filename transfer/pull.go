package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/meigma/appoci/artifact"
	"github.com/meigma/appoci/cache"
	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/log"
	"github.com/meigma/appoci/registry"
)

// maxConfigBytes bounds the application config blob read into memory.
const maxConfigBytes = 4 << 20

// PullResult summarizes a pull or fetch.
type PullResult struct {
	// SessionID identifies the session in logs and progress events.
	SessionID string

	// Manifest is the pulled artifact.
	Manifest *artifact.Manifest

	// Descriptor describes the pulled manifest.
	Descriptor ocispec.Descriptor

	// Present is the number of blobs already in the cache.
	Present int

	// Downloaded is the number of blobs this session downloaded.
	Downloaded int

	// Shared is the number of blobs downloaded by a concurrent session.
	Shared int

	// BytesDownloaded is the total size of the blobs this session downloaded.
	BytesDownloaded int64

	// Dest is the materialized directory; empty for Fetch.
	Dest string
}

// Pull downloads the artifact at ref and materializes it into dest.
//
// Every blob is verified before it enters the cache. Materialization
// starts only after all blobs are present, so a failed pull leaves dest
// untouched.
func (e *Engine) Pull(ctx context.Context, ref, dest string) (*PullResult, error) {
	ctx, s := e.begin(ctx, KindPull, ref)
	res, err := e.pull(ctx, s, ref, dest)
	if err != nil {
		return nil, s.fail(err)
	}
	s.enter(StateDone)
	return res, nil
}

// Fetch downloads the artifact at ref into the cache without
// materializing it.
func (e *Engine) Fetch(ctx context.Context, ref string) (*PullResult, error) {
	ctx, s := e.begin(ctx, KindFetch, ref)
	res, err := e.pull(ctx, s, ref, "")
	if err != nil {
		return nil, s.fail(err)
	}
	s.enter(StateDone)
	return res, nil
}

func (e *Engine) pull(ctx context.Context, s *Session, ref, dest string) (_ *PullResult, err error) {
	r, err := registry.ParseReference(ref)
	if err != nil {
		return nil, err
	}
	done := log.Operation(ctx, string(s.Kind()))
	defer func() { done(err) }()

	release := e.lease()
	defer release()

	res := &PullResult{SessionID: s.ID()}
	var mu sync.Mutex
	record := func(desc ocispec.Descriptor, ran bool) {
		mu.Lock()
		defer mu.Unlock()
		if ran {
			res.Downloaded++
			res.BytesDownloaded += desc.Size
		} else {
			res.Shared++
		}
	}

	s.enter(StateFetchingManifest)
	m, cfgPresent, err := e.fetchManifest(ctx, s, r, record)
	if errors.Is(err, artifact.ErrInvalidManifest) && !errors.Is(err, registry.ErrInvalidManifest) {
		err = fmt.Errorf("%w: %w", registry.ErrInvalidManifest, err)
	}
	if err != nil {
		return nil, err
	}
	res.Manifest = m
	res.Descriptor = m.Descriptor()
	paths := layerPaths(m)

	s.enter(StateDiffingLocal)
	missing, err := e.diffLocal(ctx, s, m.Blobs()[1:], paths)
	if err != nil {
		return nil, err
	}
	res.Present = len(m.Blobs()) - 1 - len(missing)
	if cfgPresent {
		res.Present++
	}

	s.enter(StateDownloadingBlobs)
	err = forEach(ctx, e.concurrency, missing, func(ctx context.Context, desc ocispec.Descriptor) error {
		ran, err := e.download(ctx, s, r, desc)
		if err != nil {
			return s.blobError(desc.Digest, paths[desc.Digest], err)
		}
		record(desc, ran)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if dest != "" {
		s.enter(StateMaterializing)
		if err := e.builder.Materialize(ctx, m, dest); err != nil {
			return nil, err
		}
		res.Dest = dest
	}

	slogcontext.Log(ctx, slog.LevelInfo, "artifact pulled",
		log.DescriptorAttr(m.Descriptor()),
		slog.Int("downloaded", res.Downloaded),
		slog.Int("present", res.Present))
	return res, nil
}

// fetchManifest pulls the manifest and its config blob and parses them.
// A config blob missing from the cache is downloaded and recorded; the
// returned flag reports whether it was already cached.
func (e *Engine) fetchManifest(ctx context.Context, s *Session, r registry.Reference, record func(ocispec.Descriptor, bool)) (*artifact.Manifest, bool, error) {
	_, raw, err := e.client.PullManifest(ctx, r.String())
	if err != nil {
		return nil, false, err
	}
	var oci ocispec.Manifest
	if err := json.Unmarshal(raw, &oci); err != nil {
		return nil, false, fmt.Errorf("%w: %v", artifact.ErrInvalidManifest, err)
	}
	if oci.ArtifactType != artifact.ArtifactType {
		return nil, false, fmt.Errorf("%w: artifact type %q", artifact.ErrInvalidManifest, oci.ArtifactType)
	}
	cfgDesc := oci.Config
	if err := content.ValidateDescriptor(&cfgDesc); err != nil {
		return nil, false, fmt.Errorf("%w: config: %w", artifact.ErrInvalidManifest, err)
	}
	if cfgDesc.Size > maxConfigBytes {
		return nil, false, fmt.Errorf("%w: config is %d bytes", artifact.ErrInvalidManifest, cfgDesc.Size)
	}

	present, err := e.cached(cfgDesc.Digest)
	if err != nil {
		return nil, false, s.blobError(cfgDesc.Digest, "config", err)
	}
	if present {
		s.confirm(cfgDesc.Digest)
		s.emit(Event{Kind: EventBlobPresent, Descriptor: cfgDesc})
	} else {
		ran, err := e.download(ctx, s, r, cfgDesc)
		if err != nil {
			return nil, false, s.blobError(cfgDesc.Digest, "config", err)
		}
		record(cfgDesc, ran)
	}

	rc, err := e.cache.Open(cfgDesc.Digest)
	if err != nil {
		return nil, false, s.blobError(cfgDesc.Digest, "config", err)
	}
	defer rc.Close()
	cfgBytes, err := io.ReadAll(io.LimitReader(rc, maxConfigBytes))
	if err != nil {
		return nil, false, s.blobError(cfgDesc.Digest, "config", err)
	}
	m, err := artifact.ParseManifest(raw, cfgBytes)
	return m, present, err
}

// diffLocal returns the blobs the cache lacks, in manifest order.
func (e *Engine) diffLocal(ctx context.Context, s *Session, blobs []ocispec.Descriptor, paths map[digest.Digest]string) ([]ocispec.Descriptor, error) {
	var missing []ocispec.Descriptor
	for _, desc := range blobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := e.cached(desc.Digest)
		if err != nil {
			return nil, s.blobError(desc.Digest, paths[desc.Digest], err)
		}
		if ok {
			s.confirm(desc.Digest)
			s.emit(Event{Kind: EventBlobPresent, Descriptor: desc})
			continue
		}
		missing = append(missing, desc)
	}
	return missing, nil
}

// cached reports whether the cache holds d, re-hashing it first when
// verification is enabled.
func (e *Engine) cached(d digest.Digest) (bool, error) {
	if !e.cache.Has(d) {
		return false, nil
	}
	if !e.verify {
		return true, nil
	}
	v, ok := e.cache.(interface{ Verify(digest.Digest) error })
	if !ok {
		return true, nil
	}
	switch err := v.Verify(d); {
	case err == nil:
		return true, nil
	case errors.Is(err, content.ErrDigestMismatch), errors.Is(err, cache.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// download fetches one blob into the cache, sharing the transfer with any
// other session downloading the same blob from the same repository.
func (e *Engine) download(ctx context.Context, s *Session, r registry.Reference, desc ocispec.Descriptor) (bool, error) {
	s.start(desc.Digest)
	s.emit(Event{Kind: EventBlobStarted, Descriptor: desc})
	ran, err := e.shared(ctx, flightKey("pull", r.Repo(), desc.Digest), func(ctx context.Context) error {
		if e.cache.Has(desc.Digest) {
			return nil
		}
		return e.client.DownloadBlob(ctx, r.String(), desc, func() (registry.BlobWriter, error) {
			w, err := e.cache.Writer(desc.Digest)
			if err != nil {
				return nil, err
			}
			return w, nil
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
