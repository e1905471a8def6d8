package appoci

import "github.com/meigma/appoci/transfer"

// Re-export progress types from the transfer package.
type (
	// ProgressEvent reports a state change or blob event of a push or pull.
	ProgressEvent = transfer.Event

	// ProgressEventKind identifies what a ProgressEvent reports.
	ProgressEventKind = transfer.EventKind

	// ProgressFunc receives progress updates during operations.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = transfer.ProgressFunc

	// State is a step of the push or pull workflow.
	State = transfer.State
)

// Re-export workflow states.
const (
	StateBuilding          = transfer.StateBuilding
	StateDiffingRemote     = transfer.StateDiffingRemote
	StateUploadingBlobs    = transfer.StateUploadingBlobs
	StateUploadingManifest = transfer.StateUploadingManifest
	StateFetchingManifest  = transfer.StateFetchingManifest
	StateDiffingLocal      = transfer.StateDiffingLocal
	StateDownloadingBlobs  = transfer.StateDownloadingBlobs
	StateMaterializing     = transfer.StateMaterializing
	StateDone              = transfer.StateDone
	StateFailed            = transfer.StateFailed
)

// Re-export event kinds.
const (
	EventState           = transfer.EventState
	EventBlobPresent     = transfer.EventBlobPresent
	EventBlobStarted     = transfer.EventBlobStarted
	EventBlobDone        = transfer.EventBlobDone
	EventBlobShared      = transfer.EventBlobShared
	EventManifestSkipped = transfer.EventManifestSkipped
	EventManifestPushed  = transfer.EventManifestPushed
	EventFailed          = transfer.EventFailed
)
