package registry

import (
	"context"
	"io"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/appoci/registry/oras"
)

// OCIClient defines the low-level OCI registry operations Client builds on.
//
// repoRef is "registry/repository" without a tag or digest. Implementations
// perform a single attempt per call; Client layers retries and verification
// on top.
type OCIClient interface {
	// BlobExists reports whether the repository stores desc.
	BlobExists(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (bool, error)

	// PushBlob uploads exactly desc.Size bytes from r.
	PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error

	// FetchBlob opens a blob. The caller closes the returned reader.
	FetchBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (io.ReadCloser, error)

	// PushManifest uploads raw as the manifest described by desc and, when
	// tag is non-empty, points the tag at it.
	PushManifest(ctx context.Context, repoRef, tag string, desc *ocispec.Descriptor, raw []byte) error

	// FetchManifest fetches a manifest by tag or digest.
	FetchManifest(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, []byte, error)

	// Resolve resolves a tag or digest to a manifest descriptor.
	Resolve(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, error)

	// Tag points tag at the manifest described by desc.
	Tag(ctx context.Context, repoRef string, desc *ocispec.Descriptor, tag string) error
}

var _ OCIClient = (*oras.Client)(nil)
