package content

import "errors"

// Sentinel errors for content verification.
var (
	// ErrDigestMismatch is returned when content does not hash to its expected digest.
	ErrDigestMismatch = errors.New("content: digest mismatch")

	// ErrSizeMismatch is returned when content length differs from its expected size.
	ErrSizeMismatch = errors.New("content: size mismatch")

	// ErrInvalidDescriptor is returned when a descriptor is nil or has invalid fields.
	ErrInvalidDescriptor = errors.New("content: invalid descriptor")
)
