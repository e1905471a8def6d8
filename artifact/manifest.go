package artifact

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/internal/pathutil"
)

// Role is the logical role of a layer.
type Role string

const (
	// RoleComponent is an executable component binary.
	RoleComponent Role = "component"

	// RoleAssets is a tar+zstd archive of a component's assets.
	RoleAssets Role = "assets"

	// RoleAsset is a single asset stored as its own layer.
	RoleAsset Role = "asset"
)

func (r Role) mediaType() string {
	switch r {
	case RoleComponent:
		return MediaTypeComponent
	case RoleAssets:
		return MediaTypeAssets
	case RoleAsset:
		return MediaTypeAsset
	}
	return ""
}

// Layer is a blob annotated with its role and materialization path.
type Layer struct {
	Descriptor  ocispec.Descriptor
	Role        Role
	ComponentID string

	// Path is the slash-separated materialization path. Empty for RoleAssets.
	Path string
}

func newLayer(desc ocispec.Descriptor, role Role, componentID, path string) Layer {
	desc.MediaType = role.mediaType()
	desc.Annotations = map[string]string{
		AnnotationRole:      string(role),
		AnnotationComponent: componentID,
	}
	if path != "" {
		desc.Annotations[AnnotationPath] = path
	}
	return Layer{Descriptor: desc, Role: role, ComponentID: componentID, Path: path}
}

// parseLayer reconstructs a Layer from its descriptor annotations.
func parseLayer(desc ocispec.Descriptor) (Layer, error) {
	if err := content.ValidateDescriptor(&desc); err != nil {
		return Layer{}, fmt.Errorf("%w: layer: %v", ErrInvalidManifest, err)
	}
	role := Role(desc.Annotations[AnnotationRole])
	if role.mediaType() == "" {
		return Layer{}, fmt.Errorf("%w: layer %s: unknown role %q", ErrInvalidManifest, content.Short(desc.Digest), role)
	}
	if desc.MediaType != role.mediaType() {
		return Layer{}, fmt.Errorf("%w: layer %s: media type %q does not match role %q", ErrInvalidManifest, content.Short(desc.Digest), desc.MediaType, role)
	}
	componentID := desc.Annotations[AnnotationComponent]
	if componentID == "" {
		return Layer{}, fmt.Errorf("%w: layer %s: no component", ErrInvalidManifest, content.Short(desc.Digest))
	}
	path := desc.Annotations[AnnotationPath]
	if role != RoleAssets {
		cleaned, err := pathutil.Clean(path)
		if err != nil || cleaned != path {
			return Layer{}, fmt.Errorf("%w: layer %s: bad path %q", ErrInvalidManifest, content.Short(desc.Digest), path)
		}
	}
	return Layer{Descriptor: desc, Role: role, ComponentID: componentID, Path: path}, nil
}

// Manifest is a built or pulled application artifact. It is immutable.
type Manifest struct {
	desc        ocispec.Descriptor
	raw         []byte
	oci         ocispec.Manifest
	config      Config
	configBytes []byte
	layers      []Layer
}

// newManifest encodes an OCI manifest for the given config and layers.
func newManifest(cfg Config, configBytes []byte, layers []Layer, annotations map[string]string) (*Manifest, error) {
	descs := make([]ocispec.Descriptor, len(layers))
	for i, l := range layers {
		descs[i] = l.Descriptor
	}
	if len(annotations) == 0 {
		annotations = nil
	}
	oci := ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config:       content.Describe(configBytes, MediaTypeConfig),
		Layers:       descs,
		Annotations:  annotations,
	}
	raw, err := json.Marshal(oci)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return &Manifest{
		desc:        content.Describe(raw, ocispec.MediaTypeImageManifest),
		raw:         raw,
		oci:         oci,
		config:      cfg,
		configBytes: configBytes,
		layers:      layers,
	}, nil
}

// ParseManifest decodes a pulled manifest and its config blob.
//
// The config bytes must match the config descriptor. Layer roles, owners
// and paths are read from descriptor annotations. Failures wrap
// ErrInvalidManifest.
func ParseManifest(raw, configBytes []byte) (*Manifest, error) {
	var oci ocispec.Manifest
	if err := json.Unmarshal(raw, &oci); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidManifest, err)
	}
	if oci.SchemaVersion != 2 {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrInvalidManifest, oci.SchemaVersion)
	}
	if oci.MediaType != ocispec.MediaTypeImageManifest {
		return nil, fmt.Errorf("%w: unexpected manifest media type %q", ErrInvalidManifest, oci.MediaType)
	}
	if oci.ArtifactType != ArtifactType {
		return nil, fmt.Errorf("%w: unexpected artifact type %q", ErrInvalidManifest, oci.ArtifactType)
	}
	if oci.Config.MediaType != MediaTypeConfig {
		return nil, fmt.Errorf("%w: unexpected config media type %q", ErrInvalidManifest, oci.Config.MediaType)
	}
	if got := content.Describe(configBytes, MediaTypeConfig); got.Digest != oci.Config.Digest || got.Size != oci.Config.Size {
		return nil, fmt.Errorf("%w: config blob does not match descriptor %s", ErrInvalidManifest, oci.Config.Digest)
	}
	cfg, err := decodeConfig(configBytes)
	if err != nil {
		return nil, err
	}

	layers := make([]Layer, 0, len(oci.Layers))
	for _, desc := range oci.Layers {
		l, err := parseLayer(desc)
		if err != nil {
			return nil, err
		}
		if _, ok := cfg.Component(l.ComponentID); !ok {
			return nil, fmt.Errorf("%w: layer %s: unknown component %q", ErrInvalidManifest, content.Short(desc.Digest), l.ComponentID)
		}
		layers = append(layers, l)
	}

	return &Manifest{
		desc:        content.Describe(raw, ocispec.MediaTypeImageManifest),
		raw:         raw,
		oci:         oci,
		config:      cfg,
		configBytes: configBytes,
		layers:      layers,
	}, nil
}

// Descriptor returns the descriptor of the encoded manifest.
func (m *Manifest) Descriptor() ocispec.Descriptor {
	return m.desc
}

// Digest returns the manifest digest.
func (m *Manifest) Digest() digest.Digest {
	return m.desc.Digest
}

// Bytes returns the encoded manifest. The caller must not modify it.
func (m *Manifest) Bytes() []byte {
	return m.raw
}

// OCI returns the underlying OCI manifest.
func (m *Manifest) OCI() ocispec.Manifest {
	return m.oci
}

// Config returns the decoded application config.
func (m *Manifest) Config() Config {
	return m.config
}

// ConfigDescriptor returns the descriptor of the config blob.
func (m *Manifest) ConfigDescriptor() ocispec.Descriptor {
	return m.oci.Config
}

// ConfigBytes returns the encoded config blob. The caller must not modify it.
func (m *Manifest) ConfigBytes() []byte {
	return m.configBytes
}

// Layers returns the layers in manifest order.
func (m *Manifest) Layers() []Layer {
	return m.layers
}

// Annotations returns the manifest annotations.
func (m *Manifest) Annotations() map[string]string {
	return m.oci.Annotations
}

// Created returns the creation timestamp from annotations.
//
// Returns zero time if the annotation is not present or cannot be parsed.
func (m *Manifest) Created() time.Time {
	if ts, ok := m.oci.Annotations[ocispec.AnnotationCreated]; ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Blobs returns the config descriptor followed by the layer descriptors,
// with each digest listed once.
func (m *Manifest) Blobs() []ocispec.Descriptor {
	seen := make(map[digest.Digest]struct{}, len(m.layers)+1)
	out := make([]ocispec.Descriptor, 0, len(m.layers)+1)
	add := func(d ocispec.Descriptor) {
		if _, ok := seen[d.Digest]; ok {
			return
		}
		seen[d.Digest] = struct{}{}
		out = append(out, d)
	}
	add(m.oci.Config)
	for _, l := range m.layers {
		add(l.Descriptor)
	}
	return out
}
