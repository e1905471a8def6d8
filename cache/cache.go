// Package cache provides the local content-addressed blob store.
//
// Blobs are keyed by digest. Because keys are content digests, an entry is
// valid exactly when its bytes hash to its key; implementations verify
// content before making it visible and never modify an entry in place.
//
// The cache is advisory: every entry can be rebuilt from source files or
// downloaded again, so eviction only affects performance.
package cache

import (
	"errors"
	"io"
	"time"

	"github.com/opencontainers/go-digest"
)

// ErrNotFound is returned when a digest is not present in the cache.
var ErrNotFound = errors.New("cache: not found")

// Cache provides content-addressed storage for blobs.
//
// Implementations must be safe for concurrent use. Writes for distinct
// digests may proceed concurrently; writes for the same digest are
// idempotent and must never leave a partially written file at the
// canonical location.
type Cache interface {
	// Has reports whether the digest is present.
	Has(dgst digest.Digest) bool

	// Open returns a reader for the blob. It fails with ErrNotFound if
	// the digest is absent. The caller must close the reader.
	Open(dgst digest.Digest) (io.ReadCloser, error)

	// Write stores the content of r under dgst. The content is verified
	// against dgst; on mismatch nothing is stored. Writing a digest that
	// is already present returns nil without reading r.
	Write(dgst digest.Digest, r io.Reader) error

	// Writer returns a Writer for streaming content into the cache.
	Writer(dgst digest.Digest) (Writer, error)

	// Ingest stores content whose digest is not known in advance,
	// hashing it while it is written. It returns the digest and size.
	Ingest(r io.Reader) (digest.Digest, int64, error)

	// Path returns the canonical file location of the blob for
	// zero-copy use. It fails with ErrNotFound if the digest is absent.
	Path(dgst digest.Digest) (string, error)

	// Stat returns the entry for the digest or ErrNotFound.
	Stat(dgst digest.Digest) (Entry, error)
}

// Writer streams content into the cache.
//
// After all content is written, call Commit to verify it and make it
// available, or Discard to abandon it. Content is buffered in a temporary
// location until Commit succeeds.
type Writer interface {
	io.Writer

	// Commit verifies the written content against the expected digest and
	// moves it into place. A verification failure discards the content.
	Commit() error

	// Discard aborts the write and removes temporary data.
	Discard() error
}

// Entry describes one cached blob.
type Entry struct {
	// Digest is the content digest and the entry's key.
	Digest digest.Digest

	// Size is the blob size in bytes.
	Size int64

	// Path is the canonical location of the blob on disk.
	Path string

	// LastVerified is when the content was last committed or verified.
	LastVerified time.Time
}
