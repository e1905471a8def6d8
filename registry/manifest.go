package registry

import (
	"context"
	"encoding/json"
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/log"
)

// PushManifest uploads raw as an OCI image manifest.
//
// ref must carry a tag, which is pointed at the manifest, or the manifest's
// own digest. desc must describe raw exactly.
func (c *Client) PushManifest(ctx context.Context, ref string, desc ocispec.Descriptor, raw []byte) (_ ocispec.Descriptor, err error) {
	r, err := ParseReference(ref)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if desc.MediaType == "" {
		desc.MediaType = ocispec.MediaTypeImageManifest
	}
	if err := checkManifest(desc, raw); err != nil {
		return ocispec.Descriptor{}, err
	}
	tag := r.Tag()
	if d, ok := r.Digest(); ok && d != desc.Digest {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %s does not name manifest %s", ErrInvalidReference, ref, desc.Digest)
	} else if !ok && tag == "" {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %s has no tag", ErrInvalidReference, ref)
	}

	ctx = c.logCtx(ctx)
	done := log.Operation(ctx, "push manifest", log.DescriptorAttr(desc))
	defer func() { done(err) }()

	err = c.do(ctx, "push manifest", true, func(ctx context.Context) error {
		return c.oci.PushManifest(ctx, r.Repo(), tag, &desc, raw)
	})
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// PullManifest fetches the manifest named by ref's tag or digest.
//
// The bytes are verified against the resolved digest, and against the
// requested digest for digest references. A mismatch is retried and
// reported as ErrIntegrityMismatch once attempts run out.
func (c *Client) PullManifest(ctx context.Context, ref string) (ocispec.Descriptor, []byte, error) {
	r, err := ParseReference(ref)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	if r.Reference == "" {
		return ocispec.Descriptor{}, nil, fmt.Errorf("%w: %s has no tag or digest", ErrInvalidReference, ref)
	}
	ctx = c.logCtx(ctx)

	var (
		desc ocispec.Descriptor
		raw  []byte
	)
	err = c.do(ctx, "pull manifest", true, func(ctx context.Context) error {
		got, body, err := c.oci.FetchManifest(ctx, r.Repo(), r.Reference)
		if err != nil {
			return err
		}
		if want, ok := r.Digest(); ok && got.Digest != want {
			return fmt.Errorf("%w: registry answered %s with %s", ErrIntegrityMismatch, want, got.Digest)
		}
		if actual := content.Digest(body); actual != got.Digest {
			return fmt.Errorf("%w: manifest %s hashes to %s", ErrIntegrityMismatch, got.Digest, actual)
		}
		desc, raw = got, body
		return nil
	})
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	desc.Size = int64(len(raw))
	if desc.MediaType == "" {
		desc.MediaType = ocispec.MediaTypeImageManifest
	}
	if desc.MediaType != ocispec.MediaTypeImageManifest {
		return ocispec.Descriptor{}, nil, fmt.Errorf("%w: unsupported media type %s", ErrInvalidManifest, desc.MediaType)
	}
	return desc, raw, nil
}

// Resolve resolves ref's tag or digest to a manifest descriptor.
func (c *Client) Resolve(ctx context.Context, ref string) (ocispec.Descriptor, error) {
	r, err := ParseReference(ref)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if r.Reference == "" {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %s has no tag or digest", ErrInvalidReference, ref)
	}
	ctx = c.logCtx(ctx)

	var desc ocispec.Descriptor
	err = c.do(ctx, "resolve", true, func(ctx context.Context) error {
		var err error
		desc, err = c.oci.Resolve(ctx, r.Repo(), r.Reference)
		return err
	})
	return desc, err
}

// Tag points tag, in the repository named by ref, at desc.
func (c *Client) Tag(ctx context.Context, ref string, desc ocispec.Descriptor, tag string) error {
	r, err := ParseReference(ref)
	if err != nil {
		return err
	}
	if _, err := ParseReference(r.Repo() + ":" + tag); err != nil || tag == "" {
		return fmt.Errorf("%w: tag %q", ErrInvalidReference, tag)
	}
	if err := content.ValidateDescriptor(&desc); err != nil {
		return err
	}
	ctx = c.logCtx(ctx)
	return c.do(ctx, "tag", true, func(ctx context.Context) error {
		return c.oci.Tag(ctx, r.Repo(), &desc, tag)
	})
}

// checkManifest verifies that raw is an OCI image manifest described by desc.
func checkManifest(desc ocispec.Descriptor, raw []byte) error {
	if desc.MediaType != ocispec.MediaTypeImageManifest {
		return fmt.Errorf("%w: unsupported media type %s", ErrInvalidManifest, desc.MediaType)
	}
	if int64(len(raw)) != desc.Size || content.Digest(raw) != desc.Digest {
		return fmt.Errorf("%w: bytes do not match descriptor %s", ErrInvalidManifest, desc.Digest)
	}
	var probe struct {
		SchemaVersion int    `json:"schemaVersion"`
		MediaType     string `json:"mediaType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if probe.SchemaVersion != 2 {
		return fmt.Errorf("%w: schema version %d", ErrInvalidManifest, probe.SchemaVersion)
	}
	return nil
}
