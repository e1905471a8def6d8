package registry

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when a blob, manifest or tag does not exist.
	ErrNotFound = errors.New("registry: not found")

	// ErrInvalidReference is returned when a reference string is malformed
	// or lacks a part the operation needs.
	ErrInvalidReference = errors.New("registry: invalid reference")

	// ErrInvalidManifest is returned when a manifest is not an OCI image
	// manifest or does not match the descriptor it was pushed with.
	ErrInvalidManifest = errors.New("registry: invalid manifest")

	// ErrIntegrityMismatch is returned when downloaded content does not
	// match its digest or size.
	ErrIntegrityMismatch = errors.New("registry: integrity mismatch")

	// ErrTransient marks failures worth retrying: timeouts, connection
	// errors, throttling and server errors.
	ErrTransient = errors.New("registry: transient failure")

	// ErrTransferFailed is returned when every retry attempt failed.
	// It wraps the last attempt's error.
	ErrTransferFailed = errors.New("registry: transfer failed")

	// ErrUnauthorized is returned when the registry rejects the credentials.
	ErrUnauthorized = errors.New("registry: unauthorized")

	// ErrForbidden is returned when the credentials lack access.
	ErrForbidden = errors.New("registry: forbidden")

	// ErrConflict is returned when the registry refuses a write that
	// conflicts with existing state, such as an immutable tag.
	ErrConflict = errors.New("registry: conflict")
)
