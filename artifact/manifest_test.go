package artifact

import (
	"context"
	"encoding/json"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/testutil"
)

func TestParseManifest_RoundTrip(t *testing.T) {
	t.Parallel()

	built, err := NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	parsed, err := ParseManifest(built.Bytes(), built.ConfigBytes())
	require.NoError(t, err)

	assert.Equal(t, built.Descriptor(), parsed.Descriptor())
	assert.Equal(t, built.Layers(), parsed.Layers())
	assert.Equal(t, built.Config(), parsed.Config())
	assert.Equal(t, built.Blobs(), parsed.Blobs())
}

func TestParseManifest_Rejects(t *testing.T) {
	t.Parallel()

	built, err := NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), sampleApp(t))
	require.NoError(t, err)

	encode := func(t *testing.T, mutate func(m *ocispec.Manifest)) []byte {
		t.Helper()
		oci := built.OCI()
		oci.Layers = append([]ocispec.Descriptor(nil), oci.Layers...)
		for i := range oci.Layers {
			ann := make(map[string]string, len(oci.Layers[i].Annotations))
			for k, v := range oci.Layers[i].Annotations {
				ann[k] = v
			}
			oci.Layers[i].Annotations = ann
		}
		mutate(&oci)
		raw, err := json.Marshal(oci)
		require.NoError(t, err)
		return raw
	}

	tests := []struct {
		name   string
		raw    func(t *testing.T) []byte
		config []byte
	}{
		{
			name:   "not json",
			raw:    func(*testing.T) []byte { return []byte("{") },
			config: built.ConfigBytes(),
		},
		{
			name: "wrong artifact type",
			raw: func(t *testing.T) []byte {
				return encode(t, func(m *ocispec.Manifest) { m.ArtifactType = "application/vnd.other" })
			},
			config: built.ConfigBytes(),
		},
		{
			name: "config mismatch",
			raw: func(t *testing.T) []byte {
				return encode(t, func(*ocispec.Manifest) {})
			},
			config: []byte(`{"name":"tampered"}`),
		},
		{
			name: "unknown role",
			raw: func(t *testing.T) []byte {
				return encode(t, func(m *ocispec.Manifest) { m.Layers[0].Annotations[AnnotationRole] = "plugin" })
			},
			config: built.ConfigBytes(),
		},
		{
			name: "media type disagrees with role",
			raw: func(t *testing.T) []byte {
				return encode(t, func(m *ocispec.Manifest) { m.Layers[0].MediaType = MediaTypeAssets })
			},
			config: built.ConfigBytes(),
		},
		{
			name: "escaping path",
			raw: func(t *testing.T) []byte {
				return encode(t, func(m *ocispec.Manifest) { m.Layers[0].Annotations[AnnotationPath] = "../../etc/passwd" })
			},
			config: built.ConfigBytes(),
		},
		{
			name: "unknown component",
			raw: func(t *testing.T) []byte {
				return encode(t, func(m *ocispec.Manifest) { m.Layers[0].Annotations[AnnotationComponent] = "ghost" })
			},
			config: built.ConfigBytes(),
		},
		{
			name: "invalid layer digest",
			raw: func(t *testing.T) []byte {
				return encode(t, func(m *ocispec.Manifest) { m.Layers[0].Digest = "sha256:short" })
			},
			config: built.ConfigBytes(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseManifest(tt.raw(t), tt.config)
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestManifestBlobs_Deduplicates(t *testing.T) {
	t.Parallel()

	app := &Application{
		Name: "twins",
		Components: []Component{
			{ID: "a", Source: InlineComponent{Name: "a.wasm", Data: []byte("same")}},
			{ID: "b", Source: InlineComponent{Name: "b.wasm", Data: []byte("same")}},
		},
	}
	m, err := NewBuilder(testutil.NewDiskCache(t)).Build(context.Background(), app)
	require.NoError(t, err)

	require.Len(t, m.Layers(), 2)
	blobs := m.Blobs()
	require.Len(t, blobs, 2)
	assert.Equal(t, m.ConfigDescriptor().Digest, blobs[0].Digest)
	assert.Equal(t, content.Digest([]byte("same")), blobs[1].Digest)
}
