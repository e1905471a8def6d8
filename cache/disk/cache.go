// Package disk provides a disk-backed cache implementation.
package disk

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/appoci/cache"
	"github.com/meigma/appoci/content"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	blobFilePerm          = 0o444
	ingestDir             = ".ingest"
	sourcesDir            = ".sources"
)

// Cache implements cache.Cache using the local filesystem.
//
// Blobs live at <dir>/<algorithm>/<shard>/<encoded>. Content is written to
// a temporary file in the destination directory and renamed into place, so
// readers never observe a partial blob.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64
	bytes          atomic.Int64

	// leaseMu is held shared by operations that rely on entries staying
	// present and exclusively by Prune.
	leaseMu sync.RWMutex
}

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes sets the size limit enforced by PruneToLimit.
// Values < 0 are invalid. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// New creates a disk-backed cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(filepath.Join(dir, ingestDir), c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Has reports whether the digest is present.
func (c *Cache) Has(dgst digest.Digest) bool {
	path, err := c.path(dgst)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Open returns a reader for the blob and marks it recently used.
func (c *Cache) Open(dgst digest.Digest) (io.ReadCloser, error) {
	path, err := c.path(dgst)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path is derived from a validated digest
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, dgst)
		}
		return nil, err
	}
	// Prune evicts by mtime, so reads count as use.
	now := time.Now()
	_ = os.Chtimes(path, now, now) //nolint:errcheck // best effort
	return f, nil
}

// Path returns the canonical location of the blob.
func (c *Cache) Path(dgst digest.Digest) (string, error) {
	path, err := c.path(dgst)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", cache.ErrNotFound, dgst)
		}
		return "", err
	}
	return path, nil
}

// Stat returns the cache entry for the digest.
func (c *Cache) Stat(dgst digest.Digest) (cache.Entry, error) {
	path, err := c.path(dgst)
	if err != nil {
		return cache.Entry{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cache.Entry{}, fmt.Errorf("%w: %s", cache.ErrNotFound, dgst)
		}
		return cache.Entry{}, err
	}
	return cache.Entry{
		Digest:       dgst,
		Size:         info.Size(),
		Path:         path,
		LastVerified: info.ModTime(),
	}, nil
}

// Write stores the content of r under dgst after verifying it.
func (c *Cache) Write(dgst digest.Digest, r io.Reader) error {
	if c.Has(dgst) {
		return nil
	}
	w, err := c.Writer(dgst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return err
	}
	return w.Commit()
}

// Writer opens a streaming cache writer for the given digest.
//
// If the digest is already present a no-op writer is returned.
func (c *Cache) Writer(dgst digest.Digest) (cache.Writer, error) {
	path, err := c.path(dgst)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return &noopWriter{}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return nil, err
	}
	return &diskWriter{
		cache:     c,
		file:      tmp,
		hasher:    content.NewHashingWriter(tmp),
		expected:  dgst,
		tmpPath:   tmp.Name(),
		finalPath: path,
	}, nil
}

// Ingest stores content whose digest is computed while writing.
func (c *Cache) Ingest(r io.Reader) (digest.Digest, int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(c.dir, ingestDir), "ingest-*")
	if err != nil {
		return "", 0, err
	}
	tmpPath := tmp.Name()
	hw := content.NewHashingWriter(tmp)
	if _, err := io.Copy(hw, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, err
	}

	dgst := hw.Digest()
	if err := c.place(tmpPath, dgst, hw.Size()); err != nil {
		return "", 0, err
	}
	return dgst, hw.Size(), nil
}

// Verify re-hashes a cached blob. A corrupted entry is removed and
// content.ErrDigestMismatch is returned; a valid entry has its
// verification time refreshed.
func (c *Cache) Verify(dgst digest.Digest) error {
	entry, err := c.Stat(dgst)
	if err != nil {
		return err
	}
	desc, err := content.DescribeFile(entry.Path, "")
	if err != nil {
		return err
	}
	if desc.Digest != dgst {
		c.remove(entry.Path, entry.Size)
		return fmt.Errorf("%w: cached blob %s hashes to %s", content.ErrDigestMismatch, dgst, desc.Digest)
	}
	now := time.Now()
	return os.Chtimes(entry.Path, now, now)
}

// Delete removes a cached blob. Deleting an absent blob is not an error.
func (c *Cache) Delete(dgst digest.Digest) error {
	entry, err := c.Stat(dgst)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := os.Remove(entry.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	c.bytes.Add(-entry.Size)
	return nil
}

// Lease marks the start of an operation that needs cached entries to stay
// present until the returned release function is called. Prune waits for
// outstanding leases.
func (c *Cache) Lease() (release func()) {
	c.leaseMu.RLock()
	var once sync.Once
	return func() {
		once.Do(c.leaseMu.RUnlock)
	}
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes least recently verified entries until the cache is at or
// below targetBytes. Returns the number of bytes freed.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, targetBytes)
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

// PruneToLimit prunes to the configured limit. It is a no-op when no limit is set.
func (c *Cache) PruneToLimit() (int64, error) {
	if c.maxBytes <= 0 || c.SizeBytes() <= c.maxBytes {
		return 0, nil
	}
	return c.Prune(c.maxBytes)
}

func (c *Cache) path(dgst digest.Digest) (string, error) {
	if err := dgst.Validate(); err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", dgst, err)
	}
	encoded := dgst.Encoded()
	algo := dgst.Algorithm().String()
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, algo, encoded), nil
	}
	prefixLen := min(c.shardPrefixLen, len(encoded))
	return filepath.Join(c.dir, algo, encoded[:prefixLen], encoded), nil
}

// place renames a verified temporary file to the canonical location of dgst.
// If another writer won the race the temporary file is dropped.
func (c *Cache) place(tmpPath string, dgst digest.Digest, size int64) error {
	path, err := c.path(dgst)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(tmpPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), c.dirPerm); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// Entries are shared with materialized trees through hard links.
	if err := os.Chmod(tmpPath, blobFilePerm); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// Link refuses to replace an existing entry, so exactly one racing
	// writer accounts for the bytes.
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			_ = os.Remove(tmpPath)
			return nil
		}
		if err := os.Rename(tmpPath, path); err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
		c.bytes.Add(size)
		return nil
	}
	_ = os.Remove(tmpPath)
	c.bytes.Add(size)
	return nil
}

func (c *Cache) remove(path string, size int64) {
	if err := os.Remove(path); err == nil {
		c.bytes.Add(-size)
	}
}

type diskWriter struct {
	cache     *Cache
	file      *os.File
	hasher    *content.HashingWriter
	expected  digest.Digest
	tmpPath   string
	finalPath string
	done      bool
}

func (w *diskWriter) Write(p []byte) (int, error) {
	return w.hasher.Write(p)
}

func (w *diskWriter) Commit() error {
	if w.done {
		return errors.New("cache writer already finished")
	}
	w.done = true
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return err
	}
	if got := w.hasher.Digest(); got != w.expected {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("%w: expected %s, got %s", content.ErrDigestMismatch, w.expected, got)
	}
	return w.cache.place(w.tmpPath, w.expected, w.hasher.Size())
}

func (w *diskWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type noopWriter struct{}

func (w *noopWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *noopWriter) Commit() error               { return nil }
func (w *noopWriter) Discard() error              { return nil }

// SourceIndex returns the source index stored alongside the blobs.
func (c *Cache) SourceIndex() (*SourceIndex, error) {
	return NewSourceIndex(filepath.Join(c.dir, sourcesDir))
}
