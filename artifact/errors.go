package artifact

import "errors"

var (
	// ErrInvalidApplication is returned when an application description
	// fails validation.
	ErrInvalidApplication = errors.New("artifact: invalid application")

	// ErrMissingBlob is returned when materialization needs a blob that is
	// not in the local cache. Callers must pull before materializing.
	ErrMissingBlob = errors.New("artifact: missing blob")

	// ErrInvalidManifest is returned when a manifest or its config blob is
	// not a valid application artifact.
	ErrInvalidManifest = errors.New("artifact: invalid manifest")

	// ErrPathConflict is returned when two files map to the same
	// materialization path.
	ErrPathConflict = errors.New("artifact: path conflict")
)
