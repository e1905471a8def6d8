package oras

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DefaultMaxManifestBytes bounds the size of a fetched manifest.
const DefaultMaxManifestBytes = 4 << 20

// Client performs OCI distribution operations against a remote registry.
//
// A Client is safe for concurrent use. Token exchanges are cached per host
// and scope so parallel blob transfers share a single bearer token.
type Client struct {
	plainHTTP        bool
	userAgent        string
	anonymous        bool
	maxManifestBytes int64
	httpClient       *http.Client
	credStore        credentials.Store
	authClient       *auth.Client
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		userAgent:        "appoci/1.0",
		maxManifestBytes: DefaultMaxManifestBytes,
		httpClient:       http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.authClient = &auth.Client{
		Client: c.httpClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if c.anonymous || c.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return c.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{c.userAgent},
		},
	}
	return c
}

// repository opens a Repository handle for repoRef.
func (c *Client) repository(repoRef string) (*remote.Repository, error) {
	ref, err := registry.ParseReference(repoRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidReference, repoRef, err)
	}
	ref.Reference = ""
	repo, err := remote.NewRepository(ref.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidReference, repoRef, err)
	}
	repo.PlainHTTP = c.plainHTTP
	repo.Client = c.authClient
	repo.ManifestMediaTypes = []string{ocispec.MediaTypeImageManifest}
	repo.MaxMetadataBytes = c.maxManifestBytes
	return repo, nil
}

// BlobExists reports whether the repository already stores desc.
func (c *Client) BlobExists(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (bool, error) {
	if err := validateDescriptor(desc); err != nil {
		return false, err
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return false, err
	}
	ok, err := repo.Blobs().Exists(ctx, *desc)
	if err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

// PushBlob uploads exactly desc.Size bytes read from r.
//
// The registry verifies the digest on commit. A registry that already
// holds the blob may report ErrAlreadyExists.
func (c *Client) PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: content reader is nil", ErrInvalidDescriptor)
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return err
	}
	if err := repo.Blobs().Push(ctx, *desc, r); err != nil {
		return mapError(err)
	}
	return nil
}

// FetchBlob opens the blob identified by desc.
// The caller closes the returned reader.
func (c *Client) FetchBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (io.ReadCloser, error) {
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return nil, err
	}
	rc, err := repo.Blobs().Fetch(ctx, *desc)
	if err != nil {
		return nil, mapError(err)
	}
	return rc, nil
}

// PushManifest uploads raw under desc. A non-empty tag is pointed at the
// manifest in the same request.
func (c *Client) PushManifest(ctx context.Context, repoRef, tag string, desc *ocispec.Descriptor, raw []byte) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	if int64(len(raw)) != desc.Size {
		return fmt.Errorf("%w: manifest is %d bytes, descriptor says %d", ErrInvalidDescriptor, len(raw), desc.Size)
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return err
	}
	if tag == "" {
		err = repo.Manifests().Push(ctx, *desc, bytes.NewReader(raw))
	} else {
		err = repo.Manifests().PushReference(ctx, *desc, bytes.NewReader(raw), tag)
	}
	return mapError(err)
}

// FetchManifest fetches the manifest named by reference, a tag or digest.
//
// At most the configured manifest limit is read; larger manifests fail
// with ErrManifestTooLarge. Digest verification is left to the caller.
func (c *Client) FetchManifest(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, []byte, error) {
	repo, err := c.repository(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	desc, rc, err := repo.Manifests().FetchReference(ctx, reference)
	if err != nil {
		return ocispec.Descriptor{}, nil, mapError(err)
	}
	defer rc.Close()

	if desc.Size > c.maxManifestBytes {
		return ocispec.Descriptor{}, nil, fmt.Errorf("%w: %d bytes", ErrManifestTooLarge, desc.Size)
	}
	raw, err := io.ReadAll(io.LimitReader(rc, c.maxManifestBytes+1))
	if err != nil {
		return ocispec.Descriptor{}, nil, mapError(err)
	}
	if int64(len(raw)) > c.maxManifestBytes {
		return ocispec.Descriptor{}, nil, fmt.Errorf("%w: more than %d bytes", ErrManifestTooLarge, c.maxManifestBytes)
	}
	return desc, raw, nil
}

// Resolve resolves a tag or digest to a manifest descriptor.
func (c *Client) Resolve(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, error) {
	repo, err := c.repository(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc, err := repo.Resolve(ctx, reference)
	if err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	return desc, nil
}

// Tag points tag at the manifest described by desc.
func (c *Client) Tag(ctx context.Context, repoRef string, desc *ocispec.Descriptor, tag string) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return err
	}
	return mapError(repo.Tag(ctx, *desc, tag))
}

// validateDescriptor checks that a descriptor is valid for use.
func validateDescriptor(desc *ocispec.Descriptor) error {
	if desc == nil {
		return fmt.Errorf("%w: descriptor is nil", ErrInvalidDescriptor)
	}
	if desc.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidDescriptor, desc.Size)
	}
	if desc.Digest == "" {
		return fmt.Errorf("%w: empty digest", ErrInvalidDescriptor)
	}
	if err := desc.Digest.Validate(); err != nil {
		return fmt.Errorf("%w: invalid digest %q: %w", ErrInvalidDescriptor, desc.Digest, err)
	}
	return nil
}
