package artifact

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/appoci/cache/disk"
	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/testutil"
)

// sampleSources are the files of a three-component application with one
// asset each on two components.
var sampleSources = map[string]string{
	"target/web.wasm":    "web component bytes",
	"target/api.wasm":    "api component bytes",
	"target/worker.wasm": "worker component bytes",
	"static/index.html":  "<h1>hello</h1>",
	"data/seed.json":     `{"rows":[1,2,3]}`,
}

// sampleMaterialized is what materializing the sample application yields.
var sampleMaterialized = map[string]string{
	"web.wasm":          "web component bytes",
	"api.wasm":          "api component bytes",
	"worker.wasm":       "worker component bytes",
	"static/index.html": "<h1>hello</h1>",
	"data/seed.json":    `{"rows":[1,2,3]}`,
}

func sampleApp(t *testing.T) *Application {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, sampleSources)
	return &Application{
		Name:    "sample",
		Version: "0.1.0",
		Root:    root,
		Components: []Component{
			{
				ID:     "web",
				Source: FileComponent{Path: "target/web.wasm"},
				Assets: []AssetSource{FileAsset{Path: "static/index.html", Destination: "static/index.html"}},
			},
			{
				ID:          "api",
				Source:      FileComponent{Path: "target/api.wasm"},
				Assets:      []AssetSource{FileAsset{Path: "data", Destination: "data"}},
				Environment: map[string]string{"LOG_LEVEL": "debug"},
			},
			{ID: "worker", Source: FileComponent{Path: "target/worker.wasm"}},
		},
		Triggers: []Trigger{
			{Type: "http", Component: "web", Config: map[string]string{"route": "/..."}},
			{Type: "http", Component: "api", Config: map[string]string{"route": "/api/..."}},
			{Type: "redis", Component: "worker", Config: map[string]string{"channel": "jobs"}},
		},
		Databases:      []string{"default"},
		KeyValueStores: []string{"sessions", "default"},
	}
}

func layerDigests(m *Manifest) []string {
	out := make([]string, 0, len(m.Layers()))
	for _, l := range m.Layers() {
		out = append(out, l.Descriptor.Digest.String())
	}
	return out
}

func TestBuild_Layout(t *testing.T) {
	t.Parallel()

	c := testutil.NewDiskCache(t)
	b := NewBuilder(c)
	m, err := b.Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	layers := m.Layers()
	require.Len(t, layers, 5)
	wantRoles := []Role{RoleComponent, RoleAssets, RoleComponent, RoleAssets, RoleComponent}
	wantOwners := []string{"web", "web", "api", "api", "worker"}
	for i, l := range layers {
		assert.Equal(t, wantRoles[i], l.Role, "layer %d", i)
		assert.Equal(t, wantOwners[i], l.ComponentID, "layer %d", i)
		assert.Equal(t, l.Role.mediaType(), l.Descriptor.MediaType)
		assert.True(t, c.Has(l.Descriptor.Digest), "layer %d not staged", i)
	}
	assert.Equal(t, "web.wasm", layers[0].Path)
	assert.Equal(t, content.Digest([]byte("web component bytes")), layers[0].Descriptor.Digest)

	oci := m.OCI()
	assert.Equal(t, ocispec.MediaTypeImageManifest, oci.MediaType)
	assert.Equal(t, ArtifactType, oci.ArtifactType)
	assert.Equal(t, MediaTypeConfig, oci.Config.MediaType)
	assert.True(t, c.Has(oci.Config.Digest), "config not staged")
	assert.Equal(t, "sample", m.Annotations()[ocispec.AnnotationTitle])
	assert.Equal(t, "0.1.0", m.Annotations()[ocispec.AnnotationVersion])
	assert.NotContains(t, m.Annotations(), ocispec.AnnotationCreated)

	cfg := m.Config()
	assert.Equal(t, "sample", cfg.Name)
	require.Len(t, cfg.Components, 3)
	api, ok := cfg.Component("api")
	require.True(t, ok)
	assert.Equal(t, "api.wasm", api.Path)
	assert.Equal(t, []string{"data/seed.json"}, api.Assets)
	assert.Equal(t, "debug", api.Environment["LOG_LEVEL"])
	assert.Equal(t, []string{"default", "sessions"}, cfg.KeyValueStores)
	assert.Len(t, cfg.Triggers, 3)

	assert.Len(t, m.Blobs(), 6)
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	app := sampleApp(t)
	first, err := NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), app)
	require.NoError(t, err)

	// A second builder with its own cache stands in for another machine.
	second, err := NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), app)
	require.NoError(t, err)

	assert.Equal(t, first.Digest(), second.Digest())
	assert.Equal(t, layerDigests(first), layerDigests(second))
	assert.Equal(t, first.Bytes(), second.Bytes())
	assert.Equal(t, first.ConfigBytes(), second.ConfigBytes())
}

func TestBuild_ChangedAssetOnlyChangesItsLayer(t *testing.T) {
	t.Parallel()

	app := sampleApp(t)
	b := NewBuilder(testutil.NewDiskCache(t))
	before, err := b.Build(context.Background(), app)
	require.NoError(t, err)

	testutil.WriteTree(t, app.Root, map[string]string{"data/seed.json": `{"rows":[]}`})
	after, err := b.Build(context.Background(), app)
	require.NoError(t, err)

	bd, ad := layerDigests(before), layerDigests(after)
	for i := range bd {
		if i == 3 {
			assert.NotEqual(t, bd[i], ad[i], "api asset archive should change")
			continue
		}
		assert.Equal(t, bd[i], ad[i], "layer %d should be unchanged", i)
	}
	assert.NotEqual(t, before.Digest(), after.Digest())
}

func TestBuild_SourceIndexSkipsRehash(t *testing.T) {
	t.Parallel()

	dc := testutil.NewDiskCache(t)
	idx, err := dc.SourceIndex()
	require.NoError(t, err)
	c := testutil.NewCountingCache(dc)
	b := NewBuilder(c, WithSourceIndex(idx))
	app := sampleApp(t)

	first, err := b.Build(context.Background(), app)
	require.NoError(t, err)
	ingested := c.Ingests()
	require.Positive(t, ingested)

	second, err := b.Build(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, ingested, c.Ingests(), "unchanged sources were read again")
	assert.Equal(t, first.Digest(), second.Digest())

	// A modified file is detected through its stamp.
	path := filepath.Join(app.Root, "target", "worker.wasm")
	require.NoError(t, os.WriteFile(path, []byte("worker v2"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	third, err := b.Build(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, ingested+1, c.Ingests())
	assert.Equal(t, content.Digest([]byte("worker v2")), third.Layers()[4].Descriptor.Digest)
}

func TestBuild_SplitThreshold(t *testing.T) {
	t.Parallel()

	app := sampleApp(t)
	big := strings.Repeat("a", 64)
	testutil.WriteTree(t, app.Root, map[string]string{"static/big.bin": big})
	app.Components[0].Assets = append(app.Components[0].Assets, FileAsset{Path: "static/big.bin", Destination: "static/big.bin"})

	c := testutil.NewDiskCache(t)
	b := NewBuilder(c, WithAssetSplitThreshold(32))
	m, err := b.Build(context.Background(), app)
	require.NoError(t, err)

	var split []Layer
	for _, l := range m.Layers() {
		if l.Role == RoleAsset {
			split = append(split, l)
		}
	}
	require.Len(t, split, 1)
	assert.Equal(t, "static/big.bin", split[0].Path)
	assert.Equal(t, MediaTypeAsset, split[0].Descriptor.MediaType)
	assert.Equal(t, content.Digest([]byte(big)), split[0].Descriptor.Digest)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, b.Materialize(context.Background(), m, dest))
	want := map[string]string{"static/big.bin": big}
	for k, v := range sampleMaterialized {
		want[k] = v
	}
	assert.Equal(t, want, testutil.ReadTree(t, dest))
}

func TestBuild_InlineSources(t *testing.T) {
	t.Parallel()

	app := &Application{
		Name: "inline",
		Components: []Component{{
			ID:     "hello",
			Source: InlineComponent{Name: "hello.wasm", Data: []byte("module")},
			Assets: []AssetSource{
				InlineAsset{Destination: "b.txt", Data: []byte("b")},
				InlineAsset{Destination: "nested/a.txt", Data: []byte("a")},
			},
		}},
	}
	b := NewBuilder(testutil.NewDiskCache(t))
	m, err := b.Build(context.Background(), app)
	require.NoError(t, err)
	require.Len(t, m.Layers(), 2)

	hello, ok := m.Config().Component("hello")
	require.True(t, ok)
	assert.Equal(t, []string{"b.txt", "nested/a.txt"}, hello.Assets)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, b.Materialize(context.Background(), m, dest))
	assert.Equal(t, map[string]string{
		"hello.wasm":   "module",
		"b.txt":        "b",
		"nested/a.txt": "a",
	}, testutil.ReadTree(t, dest))
}

func TestBuild_PathConflicts(t *testing.T) {
	t.Parallel()

	app := sampleApp(t)
	// The api component's directory asset expands to data/seed.json,
	// which collides with an explicit asset on worker.
	app.Components[2].Assets = []AssetSource{InlineAsset{Destination: "data/seed.json", Data: []byte("x")}}
	_, err := NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), app)
	require.ErrorIs(t, err, ErrPathConflict)

	app = sampleApp(t)
	app.Components[2].Assets = []AssetSource{InlineAsset{Destination: "web.wasm/inner", Data: []byte("x")}}
	_, err = NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), app)
	require.ErrorIs(t, err, ErrPathConflict)
}

func TestBuild_Annotations(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBuilder(testutil.NewDiskCache(t))
	m, err := b.Build(context.Background(), sampleApp(t),
		WithCreated(created),
		WithAnnotations(map[string]string{"com.example.team": "platform"}))
	require.NoError(t, err)

	assert.Equal(t, created, m.Created())
	assert.Equal(t, "platform", m.Annotations()["com.example.team"])
}

func TestBuild_MissingSource(t *testing.T) {
	t.Parallel()

	app := sampleApp(t)
	app.Components[0].Source = FileComponent{Path: "target/missing.wasm"}
	_, err := NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), app)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuild_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(testutil.NewDiskCache(t)).Build(ctx, sampleApp(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteArchive_Deterministic(t *testing.T) {
	t.Parallel()

	c := testutil.NewDiskCache(t)
	b := NewBuilder(c)
	var entries []assetEntry
	for _, p := range []string{"a/b/c.txt", "a/d.txt", "e.txt"} {
		data := []byte("content of " + p)
		dgst, size, err := b.stageBytes(data)
		require.NoError(t, err)
		entries = append(entries, assetEntry{path: p, digest: dgst, size: size})
	}

	var first, second bytes.Buffer
	require.NoError(t, b.writeArchive(context.Background(), &first, entries))
	require.NoError(t, b.writeArchive(context.Background(), &second, entries))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestParents(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "a/b"}, parents("a/b/c.txt"))
	assert.Empty(t, parents("top.txt"))
}

var _ SourceIndex = (*disk.SourceIndex)(nil)
