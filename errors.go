package appoci

import (
	"github.com/meigma/appoci/artifact"
	"github.com/meigma/appoci/cache"
	"github.com/meigma/appoci/config"
	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/registry"
)

// Errors re-exported from registry.
var (
	// ErrNotFound is returned when a manifest or blob does not exist in the registry.
	ErrNotFound = registry.ErrNotFound

	// ErrInvalidReference is returned when a reference string is malformed.
	ErrInvalidReference = registry.ErrInvalidReference

	// ErrInvalidManifest is returned when the registry holds a manifest that is not an application.
	ErrInvalidManifest = registry.ErrInvalidManifest

	// ErrIntegrityMismatch is returned when downloaded content does not match its digest.
	ErrIntegrityMismatch = registry.ErrIntegrityMismatch

	// ErrTransient is returned for failures worth retrying, such as timeouts and 5xx responses.
	ErrTransient = registry.ErrTransient

	// ErrTransferFailed is returned when retries are exhausted.
	ErrTransferFailed = registry.ErrTransferFailed

	// ErrUnauthorized is returned when the registry rejects the credentials.
	ErrUnauthorized = registry.ErrUnauthorized

	// ErrForbidden is returned when the credentials lack permission.
	ErrForbidden = registry.ErrForbidden

	// ErrConflict is returned when the registry rejects a write as conflicting.
	ErrConflict = registry.ErrConflict
)

// Errors re-exported from artifact.
var (
	// ErrInvalidApplication is returned when an application description is invalid.
	ErrInvalidApplication = artifact.ErrInvalidApplication

	// ErrPathConflict is returned when two files of an application map to the same path.
	ErrPathConflict = artifact.ErrPathConflict

	// ErrMissingBlob is returned when materializing an artifact whose blobs are not cached.
	ErrMissingBlob = artifact.ErrMissingBlob
)

// Errors re-exported from the cache and content packages.
var (
	// ErrCacheMiss is returned when a digest is not cached.
	ErrCacheMiss = cache.ErrNotFound

	// ErrDigestMismatch is returned when local content does not hash to its digest.
	ErrDigestMismatch = content.ErrDigestMismatch
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = config.ErrInvalidConfig
