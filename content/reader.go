package content

import (
	"fmt"
	"hash"
	"io"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// HashingReader wraps an io.Reader and computes the digest of all data read.
type HashingReader struct {
	r io.Reader
	d digest.Digester
	n int64
}

// NewHashingReader creates a reader that computes the canonical digest while reading.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, d: digest.Canonical.Digester()}
}

// Read implements io.Reader.
func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		_, _ = hr.d.Hash().Write(p[:n]) //nolint:errcheck // hash writes never fail
		hr.n += int64(n)
	}
	return n, err
}

// Digest returns the digest of the data read so far.
func (hr *HashingReader) Digest() digest.Digest {
	return hr.d.Digest()
}

// Size returns the number of bytes read so far.
func (hr *HashingReader) Size() int64 {
	return hr.n
}

// Descriptor returns a descriptor for the data read so far.
func (hr *HashingReader) Descriptor(mediaType string) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: defaultMediaType(mediaType),
		Digest:    hr.Digest(),
		Size:      hr.n,
	}
}

// HashingWriter wraps an io.Writer and computes the digest of all data written.
type HashingWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewHashingWriter creates a writer that computes the canonical digest of
// everything successfully written to w.
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: digest.Canonical.Hash()}
}

// Write implements io.Writer.
func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		_, _ = hw.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
		hw.n += int64(n)
	}
	return n, err
}

// Digest returns the digest of the data written so far.
func (hw *HashingWriter) Digest() digest.Digest {
	return digest.NewDigest(digest.Canonical, hw.h)
}

// Size returns the number of bytes written so far.
func (hw *HashingWriter) Size() int64 {
	return hw.n
}

// VerifyingReader checks content against a descriptor as it is read.
//
// Reads past the expected size fail with ErrSizeMismatch. At EOF the digest
// is compared and ErrDigestMismatch is returned instead of io.EOF if it
// differs. A reader that has failed keeps returning the same error.
type VerifyingReader struct {
	r        io.Reader
	expected ocispec.Descriptor
	verifier digest.Verifier
	n        int64
	err      error
}

// NewVerifyingReader wraps r so that its content is verified against desc.
// The descriptor must have passed ValidateDescriptor.
func NewVerifyingReader(r io.Reader, desc ocispec.Descriptor) *VerifyingReader {
	return &VerifyingReader{
		r:        r,
		expected: desc,
		verifier: desc.Digest.Verifier(),
	}
}

// Read implements io.Reader.
func (vr *VerifyingReader) Read(p []byte) (int, error) {
	if vr.err != nil {
		return 0, vr.err
	}
	n, err := vr.r.Read(p)
	if n > 0 {
		vr.n += int64(n)
		if vr.n > vr.expected.Size {
			vr.err = fmt.Errorf("%w: read more than %d bytes for %s", ErrSizeMismatch, vr.expected.Size, vr.expected.Digest)
			return 0, vr.err
		}
		_, _ = vr.verifier.Write(p[:n]) //nolint:errcheck // hash writes never fail
	}
	if err == io.EOF {
		if verr := vr.verify(); verr != nil {
			vr.err = verr
			return n, verr
		}
		return n, io.EOF
	}
	return n, err
}

// Verified reports whether the full content has been read and matched.
func (vr *VerifyingReader) Verified() bool {
	return vr.err == nil && vr.n == vr.expected.Size && vr.verifier.Verified()
}

func (vr *VerifyingReader) verify() error {
	if vr.n != vr.expected.Size {
		return fmt.Errorf("%w: expected %d bytes for %s, got %d", ErrSizeMismatch, vr.expected.Size, vr.expected.Digest, vr.n)
	}
	if !vr.verifier.Verified() {
		return fmt.Errorf("%w: content does not match %s", ErrDigestMismatch, vr.expected.Digest)
	}
	return nil
}
