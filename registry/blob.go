package registry

import (
	"context"
	"errors"
	"fmt"
	"io"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/log"
	"github.com/meigma/appoci/registry/oras"
)

// Opener returns a fresh reader over a blob's content. PushBlob calls it
// once per attempt and closes what it returns.
type Opener func() (io.ReadCloser, error)

// BlobWriter receives downloaded content. Commit is called only after the
// content has been verified; Discard is called on any failure.
type BlobWriter interface {
	io.Writer
	Commit() error
	Discard() error
}

// BlobExists reports whether the repository named by ref stores desc.
func (c *Client) BlobExists(ctx context.Context, ref string, desc ocispec.Descriptor) (bool, error) {
	r, err := c.blobRef(ref, &desc)
	if err != nil {
		return false, err
	}
	ctx = c.logCtx(ctx)

	var exists bool
	err = c.do(ctx, "blob exists", true, func(ctx context.Context) error {
		var err error
		exists, err = c.oci.BlobExists(ctx, r.Repo(), &desc)
		return err
	})
	return exists, err
}

// PushBlob uploads a blob, reading its content from open.
//
// Each attempt first asks the registry whether it already stores the blob
// and succeeds without a transfer if so; a failed check only means the
// upload goes ahead. The registry verifies the digest on commit; a
// rejected digest is reported as ErrIntegrityMismatch.
func (c *Client) PushBlob(ctx context.Context, ref string, desc ocispec.Descriptor, open Opener) (err error) {
	r, err := c.blobRef(ref, &desc)
	if err != nil {
		return err
	}
	if open == nil {
		return fmt.Errorf("registry: push blob %s: nil opener", desc.Digest)
	}
	ctx = c.logCtx(ctx)
	done := log.Operation(ctx, "push blob", log.DescriptorAttr(desc))
	defer func() { done(err) }()

	return c.do(ctx, "push blob", true, func(ctx context.Context) error {
		// Blobs().Push uploads unconditionally.
		if ok, err := c.oci.BlobExists(ctx, r.Repo(), &desc); err == nil && ok {
			return nil
		}
		rc, err := open()
		if err != nil {
			return fmt.Errorf("open blob %s: %w", desc.Digest, err)
		}
		defer rc.Close()

		err = c.oci.PushBlob(ctx, r.Repo(), &desc, rc)
		if errors.Is(err, oras.ErrAlreadyExists) {
			return nil
		}
		return err
	})
}

// PullBlob opens a blob for streaming.
//
// The returned reader verifies size and digest as it is consumed and fails
// with ErrIntegrityMismatch instead of returning io.EOF when they do not
// match. Opening is retried; reading is not, and the per-attempt timeout
// does not apply to the stream.
func (c *Client) PullBlob(ctx context.Context, ref string, desc ocispec.Descriptor) (io.ReadCloser, error) {
	r, err := c.blobRef(ref, &desc)
	if err != nil {
		return nil, err
	}
	ctx = c.logCtx(ctx)

	var rc io.ReadCloser
	err = c.do(ctx, "pull blob", false, func(ctx context.Context) error {
		var err error
		rc, err = c.oci.FetchBlob(ctx, r.Repo(), &desc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &verifiedReadCloser{
		VerifyingReader: content.NewVerifyingReader(rc, desc),
		closer:          rc,
	}, nil
}

// DownloadBlob downloads a blob into writers obtained from open.
//
// Each attempt gets a new writer. Content is verified while it streams;
// the writer is committed only after verification succeeded and discarded
// on any failure, so a partially downloaded blob is never committed.
func (c *Client) DownloadBlob(ctx context.Context, ref string, desc ocispec.Descriptor, open func() (BlobWriter, error)) (err error) {
	r, err := c.blobRef(ref, &desc)
	if err != nil {
		return err
	}
	if open == nil {
		return fmt.Errorf("registry: download blob %s: nil writer", desc.Digest)
	}
	ctx = c.logCtx(ctx)
	done := log.Operation(ctx, "download blob", log.DescriptorAttr(desc))
	defer func() { done(err) }()

	return c.do(ctx, "download blob", true, func(ctx context.Context) error {
		rc, err := c.oci.FetchBlob(ctx, r.Repo(), &desc)
		if err != nil {
			return err
		}
		defer rc.Close()

		w, err := open()
		if err != nil {
			return fmt.Errorf("open writer for %s: %w", desc.Digest, err)
		}
		vr := content.NewVerifyingReader(rc, desc)
		if _, err := io.Copy(w, vr); err != nil {
			_ = w.Discard() //nolint:errcheck // best-effort cleanup
			return err
		}
		if !vr.Verified() {
			_ = w.Discard() //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("%w: %s not fully read", ErrIntegrityMismatch, desc.Digest)
		}
		return w.Commit()
	})
}

// blobRef parses ref and validates desc.
func (c *Client) blobRef(ref string, desc *ocispec.Descriptor) (Reference, error) {
	r, err := ParseReference(ref)
	if err != nil {
		return Reference{}, err
	}
	if err := content.ValidateDescriptor(desc); err != nil {
		return Reference{}, err
	}
	return r, nil
}

// verifiedReadCloser maps verification failures to ErrIntegrityMismatch.
type verifiedReadCloser struct {
	*content.VerifyingReader
	closer io.Closer
}

func (v *verifiedReadCloser) Read(p []byte) (int, error) {
	n, err := v.VerifyingReader.Read(p)
	if err != nil && err != io.EOF {
		err = mapOCIError(err)
	}
	return n, err
}

func (v *verifiedReadCloser) Close() error {
	return v.closer.Close()
}
