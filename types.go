package appoci

import (
	"github.com/meigma/appoci/artifact"
	"github.com/meigma/appoci/transfer"
)

// Application description types.
type (
	// Application describes a multi-component application.
	Application = artifact.Application

	// Component is one executable unit of an application.
	Component = artifact.Component

	// FileComponent reads a component binary from a file.
	FileComponent = artifact.FileComponent

	// InlineComponent carries a component binary in memory.
	InlineComponent = artifact.InlineComponent

	// AssetSource is a static file or directory served by a component.
	AssetSource = artifact.AssetSource

	// FileAsset copies a file or directory from disk.
	FileAsset = artifact.FileAsset

	// InlineAsset carries asset content in memory.
	InlineAsset = artifact.InlineAsset

	// Trigger binds a component to an event source.
	Trigger = artifact.Trigger

	// Manifest is a built or pulled artifact.
	Manifest = artifact.Manifest

	// Layer is one blob of an artifact.
	Layer = artifact.Layer

	// BuildOption configures a single build.
	BuildOption = artifact.BuildOption
)

// Result types.
type (
	// PushResult summarizes a push.
	PushResult = transfer.PushResult

	// PullResult summarizes a pull or fetch.
	PullResult = transfer.PullResult

	// TransferError names the workflow step and blob a push or pull failed on.
	TransferError = transfer.Error
)

// ArtifactType identifies appoci manifests.
const ArtifactType = artifact.ArtifactType

// DefaultTag derives an OCI tag from an application version.
func DefaultTag(version string) (string, error) {
	return artifact.DefaultTag(version)
}
