// Package testutil provides helpers shared by appoci tests.
package testutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/appoci/cache"
	"github.com/meigma/appoci/cache/disk"
)

// WriteTree writes files below dir. Keys are slash-separated paths.
func WriteTree(tb testing.TB, dir string, files map[string]string) {
	tb.Helper()
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			tb.Fatalf("mkdir %s: %v", path, err)
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			tb.Fatalf("write %s: %v", path, err)
		}
	}
}

// ReadTree returns every regular file below dir keyed by slash path.
func ReadTree(tb testing.TB, dir string) map[string]string {
	tb.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path) //nolint:gosec // test helper
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		tb.Fatalf("read tree %s: %v", dir, err)
	}
	return out
}

// NewDiskCache returns a disk cache rooted in a test temp dir.
func NewDiskCache(tb testing.TB, opts ...disk.Option) *disk.Cache {
	tb.Helper()
	c, err := disk.New(tb.TempDir(), opts...)
	if err != nil {
		tb.Fatalf("disk.New: %v", err)
	}
	return c
}

// CountingCache wraps a cache and counts calls that store content.
// It is safe for concurrent use.
type CountingCache struct {
	cache.Cache

	mu      sync.Mutex
	writes  map[digest.Digest]int
	ingests int
}

// NewCountingCache wraps c.
func NewCountingCache(c cache.Cache) *CountingCache {
	return &CountingCache{Cache: c, writes: make(map[digest.Digest]int)}
}

// Write counts the call and delegates.
func (c *CountingCache) Write(dgst digest.Digest, r io.Reader) error {
	c.mu.Lock()
	c.writes[dgst]++
	c.mu.Unlock()
	return c.Cache.Write(dgst, r)
}

// Writer counts the call and delegates.
func (c *CountingCache) Writer(dgst digest.Digest) (cache.Writer, error) {
	c.mu.Lock()
	c.writes[dgst]++
	c.mu.Unlock()
	return c.Cache.Writer(dgst)
}

// Ingest counts the call and delegates.
func (c *CountingCache) Ingest(r io.Reader) (digest.Digest, int64, error) {
	c.mu.Lock()
	c.ingests++
	c.mu.Unlock()
	return c.Cache.Ingest(r)
}

// Writes returns how often content for dgst was written.
func (c *CountingCache) Writes(dgst digest.Digest) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[dgst]
}

// Ingests returns the number of Ingest calls.
func (c *CountingCache) Ingests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingests
}
