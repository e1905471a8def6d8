package artifact

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/log"
)

// epoch is the modification time written for every archive entry.
var epoch = time.Unix(0, 0).UTC()

const (
	archiveDirMode  = 0o755
	archiveFileMode = 0o644
)

// stageArchive writes a deterministic tar+zstd archive of entries into the
// cache. Entries must be sorted by path and already staged.
//
// The archive digest is remembered in the source index under a key derived
// from the entry paths and digests, so unchanged asset sets are not
// re-compressed.
func (b *Builder) stageArchive(ctx context.Context, entries []assetEntry) (ocispec.Descriptor, error) {
	key := archiveKey(entries)
	if b.sources != nil {
		if dgst, ok := b.sources.Lookup(key, ""); ok {
			if entry, err := b.cache.Stat(dgst); err == nil {
				return ocispec.Descriptor{MediaType: MediaTypeAssets, Digest: dgst, Size: entry.Size}, nil
			}
		}
	}

	pr, pw := io.Pipe()
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		pw.CloseWithError(b.writeArchive(ctx, pw, entries))
	}()
	dgst, size, err := b.cache.Ingest(pr)
	pr.CloseWithError(err)
	<-writeDone
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("stage asset archive: %w", err)
	}

	if b.sources != nil {
		_ = b.sources.Record(key, "", dgst)
	}
	desc := ocispec.Descriptor{MediaType: MediaTypeAssets, Digest: dgst, Size: size}
	slogcontext.Log(ctx, slog.LevelDebug, "asset archive staged",
		log.DescriptorAttr(desc),
		slog.Int("files", len(entries)))
	return desc, nil
}

// writeArchive streams the archive to w. Headers carry fixed modes, owners
// and times, and parent directories are emitted once before their first
// file, so equal inputs give equal bytes.
func (b *Builder) writeArchive(ctx context.Context, w io.Writer, entries []assetEntry) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1), zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	dirs := make(map[string]struct{})
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return err
		}
		for _, dir := range parents(e.path) {
			if _, ok := dirs[dir]; ok {
				continue
			}
			dirs[dir] = struct{}{}
			if err := tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     dir + "/",
				Mode:     archiveDirMode,
				ModTime:  epoch,
			}); err != nil {
				_ = zw.Close()
				return err
			}
		}
		if err := b.writeArchiveFile(tw, e); err != nil {
			_ = zw.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func (b *Builder) writeArchiveFile(tw *tar.Writer, e assetEntry) error {
	rc, err := b.cache.Open(e.digest)
	if err != nil {
		return fmt.Errorf("open asset %s: %w", e.path, err)
	}
	defer rc.Close()

	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.path,
		Mode:     archiveFileMode,
		Size:     e.size,
		ModTime:  epoch,
	}); err != nil {
		return err
	}
	// A damaged cache entry must not end up inside an archive.
	vr := content.NewVerifyingReader(rc, ocispec.Descriptor{Digest: e.digest, Size: e.size})
	if _, err := io.Copy(tw, vr); err != nil {
		return fmt.Errorf("archive asset %s: %w", e.path, err)
	}
	return nil
}

// parents returns the ancestor directories of a slash path, outermost first.
func parents(p string) []string {
	var out []string
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		out = append(out, dir)
	}
	slices.Reverse(out)
	return out
}

// archiveKey identifies an asset set by its paths and content digests.
func archiveKey(entries []assetEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.path)
		sb.WriteByte(0)
		sb.WriteString(e.digest.String())
		sb.WriteByte('\n')
	}
	return "assets.v1:" + content.Digest([]byte(sb.String())).String()
}
