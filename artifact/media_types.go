package artifact

// Media types for application artifacts in OCI registries.
const (
	// ArtifactType identifies application artifacts as an OCI 1.1 artifact type.
	ArtifactType = "application/vnd.appoci.application.v1"

	// MediaTypeConfig is the media type for the application config blob.
	MediaTypeConfig = "application/vnd.appoci.config.v1+json"

	// MediaTypeComponent is the media type for an executable component.
	MediaTypeComponent = "application/vnd.appoci.component.v1"

	// MediaTypeAssets is the media type for a component's asset archive.
	MediaTypeAssets = "application/vnd.appoci.assets.v1.tar+zstd"

	// MediaTypeAsset is the media type for a single asset stored as its own layer.
	MediaTypeAsset = "application/vnd.appoci.asset.v1"
)

// Annotation keys carried on layer descriptors.
const (
	// AnnotationRole names the Role of a layer.
	AnnotationRole = "dev.appoci.layer.role"

	// AnnotationComponent names the component a layer belongs to.
	AnnotationComponent = "dev.appoci.component.id"

	// AnnotationPath is the materialization path of a layer. Asset
	// archives carry no path; their entries are placed relative to the
	// destination root.
	AnnotationPath = "dev.appoci.layer.path"
)
