// Package content computes digests and descriptors for blob content.
//
// Every distributable object (component binary, asset archive, application
// config) is identified solely by its digest. Digests are computed with the
// canonical algorithm (sha256) and rendered as "sha256:<hex>".
package content

import (
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// MediaTypeOctetStream is used when no more specific media type applies.
const MediaTypeOctetStream = "application/octet-stream"

// Digest returns the canonical digest of p.
func Digest(p []byte) digest.Digest {
	return digest.Canonical.FromBytes(p)
}

// Describe returns a descriptor for p.
// An empty mediaType defaults to MediaTypeOctetStream.
func Describe(p []byte, mediaType string) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: defaultMediaType(mediaType),
		Digest:    Digest(p),
		Size:      int64(len(p)),
	}
}

// DescribeReader consumes r and returns its descriptor.
//
// The content is streamed through the hash; memory use does not depend on
// the size of r.
func DescribeReader(r io.Reader, mediaType string) (ocispec.Descriptor, error) {
	hr := NewHashingReader(r)
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return ocispec.Descriptor{}, err
	}
	return hr.Descriptor(mediaType), nil
}

// DescribeFile returns the descriptor of the file at path.
func DescribeFile(path, mediaType string) (ocispec.Descriptor, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the caller
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer f.Close()

	desc, err := DescribeReader(f, mediaType)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("describe %s: %w", path, err)
	}
	return desc, nil
}

// ValidateDescriptor checks that a descriptor is usable for a transfer.
func ValidateDescriptor(desc *ocispec.Descriptor) error {
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
		return fmt.Errorf("%w: invalid digest %q: %v", ErrInvalidDescriptor, desc.Digest, err)
	}
	return nil
}

// Short returns an abbreviated digest for log output.
func Short(d digest.Digest) string {
	s := d.String()
	return s[:min(19, len(s))]
}

func defaultMediaType(mediaType string) string {
	if mediaType == "" {
		return MediaTypeOctetStream
	}
	return mediaType
}
