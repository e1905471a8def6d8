package disk

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// SourceIndex remembers the digest of source content between runs.
//
// Records are keyed by an arbitrary string (typically an absolute file
// path) and carry an opaque stamp describing the source state when it was
// hashed, such as size and modification time. A lookup only hits when the
// stamp is unchanged, so edited files are re-hashed and their record is
// replaced.
//
// Keys are hashed with SHA256 to create safe filenames.
type SourceIndex struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
}

// sourceRecord is the on-disk form of one index entry.
type sourceRecord struct {
	Key          string        `json:"key"`
	Stamp        string        `json:"stamp"`
	Digest       digest.Digest `json:"digest"`
	LastVerified time.Time     `json:"lastVerified"`
}

// NewSourceIndex creates a disk-backed source index rooted at dir.
func NewSourceIndex(dir string) (*SourceIndex, error) {
	if dir == "" {
		return nil, errors.New("source index dir is empty")
	}
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, err
	}
	return &SourceIndex{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}, nil
}

// Lookup returns the recorded digest for key if the record's stamp matches.
//
// Malformed records are deleted.
func (s *SourceIndex) Lookup(key, stamp string) (digest.Digest, bool) {
	path := s.path(key)
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return "", false
	}
	defer root.Close()

	data, err := root.ReadFile(path)
	if err != nil {
		return "", false
	}

	var rec sourceRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Digest.Validate() != nil || rec.Key != key {
		_ = root.Remove(path)
		return "", false
	}
	if rec.Stamp != stamp {
		return "", false
	}
	return rec.Digest, true
}

// Record stores the digest for key, replacing any previous record.
func (s *SourceIndex) Record(key, stamp string, dgst digest.Digest) error {
	if err := dgst.Validate(); err != nil {
		return fmt.Errorf("record source %q: %w", key, err)
	}
	data, err := json.Marshal(sourceRecord{
		Key:          key,
		Stamp:        stamp,
		Digest:       dgst,
		LastVerified: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	path := s.path(key)
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return fmt.Errorf("open source index root: %w", err)
	}
	defer root.Close()

	dir := filepath.Dir(path)
	if dir != "." {
		if err := root.MkdirAll(dir, s.dirPerm); err != nil {
			return fmt.Errorf("create source index dir: %w", err)
		}
	}

	tmp, tmpPath, err := createTemp(root, dir, ".source-*")
	if err != nil {
		return fmt.Errorf("create temp source record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = root.Remove(tmpPath)
		return fmt.Errorf("write source record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("close source record: %w", err)
	}
	if err := root.Rename(tmpPath, path); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("rename source record: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (s *SourceIndex) Delete(key string) error {
	err := os.Remove(filepath.Join(s.dir, s.path(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *SourceIndex) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	hexHash := hex.EncodeToString(sum[:])
	if s.shardPrefixLen <= 0 {
		return hexHash
	}
	prefixLen := min(s.shardPrefixLen, len(hexHash))
	return filepath.Join(hexHash[:prefixLen], hexHash)
}

// createTemp creates a uniquely named file in dir within root.
func createTemp(root *os.Root, dir, pattern string) (*os.File, string, error) {
	for range 10000 {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err != nil {
			return nil, "", err
		}
		name := strings.Replace(pattern, "*", hex.EncodeToString(randBytes[:]), 1)
		path := filepath.Join(dir, name)
		f, err := root.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", errors.New("failed to create temp file")
}
