package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	tarfs "github.com/nlepage/go-tarfs"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/log"
	"github.com/meigma/appoci/internal/pathutil"
)

const (
	materializedDirPerm  = 0o755
	// Binaries may be hard links that share the cache's read-only inode,
	// so every materialized file gets the same read-only mode.
	materializedFilePerm = 0o444
)

// Materialize writes the files of m into dest.
//
// Every layer must already be in the cache; otherwise ErrMissingBlob is
// returned before anything is written. Files are assembled in a sibling
// staging directory that replaces dest only once complete, so a failure
// leaves dest as it was. Component binaries and split assets are hard
// linked from the cache when possible and copied otherwise; either way
// materialized files are read-only.
func (b *Builder) Materialize(ctx context.Context, m *Manifest, dest string) (err error) {
	done := log.Operation(ctx, "materialize artifact",
		slog.String("dest", dest),
		log.DescriptorAttr(m.Descriptor()))
	defer func() { done(err) }()

	for _, l := range m.Layers() {
		if !b.cache.Has(l.Descriptor.Digest) {
			return fmt.Errorf("%w: %s (%s layer of component %s)", ErrMissingBlob, l.Descriptor.Digest, l.Role, l.ComponentID)
		}
	}

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, materializedDirPerm); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dest)+".staging-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(staging)
		}
	}()

	for _, l := range m.Layers() {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch l.Role {
		case RoleComponent, RoleAsset:
			err = b.placeBlob(staging, l)
		case RoleAssets:
			err = b.extractArchive(staging, l)
		default:
			err = fmt.Errorf("%w: unknown role %q", ErrInvalidManifest, l.Role)
		}
		if err != nil {
			return fmt.Errorf("materialize %s layer %s of component %s: %w", l.Role, content.Short(l.Descriptor.Digest), l.ComponentID, err)
		}
	}

	if err := os.Chmod(staging, materializedDirPerm); err != nil {
		return err
	}
	if err := swapDir(staging, dest); err != nil {
		return err
	}
	slogcontext.Log(ctx, slog.LevelDebug, "artifact materialized", slog.String("dest", dest), slog.Int("layers", len(m.Layers())))
	return nil
}

// placeBlob links or copies a cached blob to the layer path.
func (b *Builder) placeBlob(root string, l Layer) error {
	target, err := pathutil.Join(root, l.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), materializedDirPerm); err != nil {
		return err
	}
	src, err := b.cache.Path(l.Descriptor.Digest)
	if err != nil {
		return err
	}
	if err := os.Link(src, target); err == nil {
		return nil
	}
	rc, err := b.cache.Open(l.Descriptor.Digest)
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeNewFile(target, content.NewVerifyingReader(rc, l.Descriptor))
}

// extractArchive unpacks an asset archive below root.
//
// The archive is decompressed into a temporary file first so tarfs can
// serve entries by offset instead of buffering them in memory.
func (b *Builder) extractArchive(root string, l Layer) error {
	rc, err := b.cache.Open(l.Descriptor.Digest)
	if err != nil {
		return err
	}
	defer rc.Close()

	dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(b.maxDecoderMemory))
	if err != nil {
		return err
	}
	defer dec.Close()

	tmp, err := os.CreateTemp(filepath.Dir(root), ".assets-*.tar")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, dec); err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	tfs, err := tarfs.New(tmp)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	return fs.WalkDir(tfs, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if name == "." {
			return nil
		}
		target, err := pathutil.Join(root, name)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, materializedDirPerm)
		case d.Type().IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), materializedDirPerm); err != nil {
				return err
			}
			f, err := tfs.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()
			return writeNewFile(target, f)
		default:
			return fmt.Errorf("archive entry %q: unsupported type %s", name, d.Type())
		}
	})
}

// writeNewFile creates path exclusively and fills it from r.
func writeNewFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, materializedFilePerm) //nolint:gosec // path checked by pathutil.Join
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrPathConflict, path)
		}
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// swapDir moves staging to dest, replacing any existing dest.
func swapDir(staging, dest string) error {
	if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
		return os.Rename(staging, dest)
	} else if err != nil {
		return err
	}

	old, err := os.MkdirTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".old-*")
	if err != nil {
		return err
	}
	if err := os.Remove(old); err != nil {
		return err
	}
	if err := os.Rename(dest, old); err != nil {
		return err
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.Rename(old, dest)
		return err
	}
	return os.RemoveAll(old)
}
