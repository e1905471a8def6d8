package artifact

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/testutil"
)

func TestMaterialize_RoundTrip(t *testing.T) {
	t.Parallel()

	b := NewBuilder(testutil.NewDiskCache(t))
	m, err := b.Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "app")
	require.NoError(t, b.Materialize(context.Background(), m, dest))
	assert.Equal(t, sampleMaterialized, testutil.ReadTree(t, dest))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging leftovers next to dest")
}

func TestMaterialize_FilesAreReadOnly(t *testing.T) {
	t.Parallel()

	// seed.json is split into its own layer while index.html stays in an
	// archive, so linked and extracted files both appear in the tree.
	b := NewBuilder(testutil.NewDiskCache(t), WithAssetSplitThreshold(15))
	m, err := b.Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "app")
	require.NoError(t, b.Materialize(context.Background(), m, dest))

	var files int
	err = filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		files++
		info, err := d.Info()
		if err != nil {
			return err
		}
		assert.Equal(t, fs.FileMode(0o444), info.Mode().Perm(), path)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, sampleMaterialized, files)
}

func TestMaterialize_FromParsedManifest(t *testing.T) {
	t.Parallel()

	b := NewBuilder(testutil.NewDiskCache(t))
	built, err := b.Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	pulled, err := ParseManifest(built.Bytes(), built.ConfigBytes())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "app")
	require.NoError(t, b.Materialize(context.Background(), pulled, dest))
	assert.Equal(t, sampleMaterialized, testutil.ReadTree(t, dest))
}

func TestMaterialize_MissingBlob(t *testing.T) {
	t.Parallel()

	m, err := NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	// A builder over an empty cache has none of the blobs.
	empty := NewBuilder(testutil.NewDiskCache(t))
	dest := filepath.Join(t.TempDir(), "app")
	err = empty.Materialize(context.Background(), m, dest)
	require.ErrorIs(t, err, ErrMissingBlob)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "dest must not be created")
}

func TestMaterialize_ReplacesExisting(t *testing.T) {
	t.Parallel()

	b := NewBuilder(testutil.NewDiskCache(t))
	m, err := b.Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "app")
	testutil.WriteTree(t, dest, map[string]string{"stale.txt": "old"})

	require.NoError(t, b.Materialize(context.Background(), m, dest))
	assert.Equal(t, sampleMaterialized, testutil.ReadTree(t, dest))
}

func TestMaterialize_FailureLeavesDestUntouched(t *testing.T) {
	t.Parallel()

	c := testutil.NewDiskCache(t)
	b := NewBuilder(c)

	good, _, err := b.stageBytes([]byte("component"))
	require.NoError(t, err)
	garbage := []byte("this is not a zstd stream")
	bad := content.Digest(garbage)
	require.NoError(t, c.Write(bad, bytes.NewReader(garbage)))

	layers := []Layer{
		newLayer(ocispec.Descriptor{Digest: good, Size: int64(len("component"))}, RoleComponent, "c", "c.wasm"),
		newLayer(ocispec.Descriptor{Digest: bad, Size: int64(len(garbage))}, RoleAssets, "c", ""),
	}
	cfg := Config{Name: "broken", Components: []ComponentConfig{{ID: "c", Path: "c.wasm"}}}
	cfgBytes, err := cfg.encode()
	require.NoError(t, err)
	m, err := newManifest(cfg, cfgBytes, layers, nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "app")
	previous := map[string]string{"previous.txt": "keep me"}
	testutil.WriteTree(t, dest, previous)

	err = b.Materialize(context.Background(), m, dest)
	require.Error(t, err)
	assert.Equal(t, previous, testutil.ReadTree(t, dest))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging leftovers next to dest")
}

func TestMaterialize_Canceled(t *testing.T) {
	t.Parallel()

	b := NewBuilder(testutil.NewDiskCache(t))
	m, err := b.Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dest := filepath.Join(t.TempDir(), "app")
	require.ErrorIs(t, b.Materialize(ctx, m, dest), context.Canceled)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
