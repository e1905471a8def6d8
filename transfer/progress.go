package transfer

import ocispec "github.com/opencontainers/image-spec/specs-go/v1"

// EventKind classifies progress events.
type EventKind string

// Event kinds.
const (
	// EventState reports entering a new workflow state.
	EventState EventKind = "state"

	// EventBlobPresent reports a blob that needs no transfer.
	EventBlobPresent EventKind = "blob-present"

	// EventBlobStarted reports the start of a blob transfer.
	EventBlobStarted EventKind = "blob-started"

	// EventBlobDone reports a finished blob transfer.
	EventBlobDone EventKind = "blob-done"

	// EventBlobShared reports a blob transferred by another session's
	// in-flight transfer.
	EventBlobShared EventKind = "blob-shared"

	// EventManifestSkipped reports that the tag already pointed at the
	// manifest.
	EventManifestSkipped EventKind = "manifest-skipped"

	// EventManifestPushed reports a manifest upload.
	EventManifestPushed EventKind = "manifest-pushed"

	// EventFailed reports the failure that ended the session.
	EventFailed EventKind = "failed"
)

// Event is a progress notification.
type Event struct {
	SessionID  string
	Ref        string
	Kind       EventKind
	State      State
	Descriptor ocispec.Descriptor
	Err        error
}

// ProgressFunc receives progress events. It is called from worker
// goroutines and must be safe for concurrent use.
type ProgressFunc func(Event)
