package registry

import (
	"fmt"

	"github.com/opencontainers/go-digest"
	"oras.land/oras-go/v2/registry"
)

// Reference is a parsed "registry/repository[:tag|@digest]" string.
type Reference struct {
	// Registry is the host[:port] of the registry.
	Registry string

	// Repository is the repository path within the registry.
	Repository string

	// Reference is the tag or digest, possibly empty.
	Reference string
}

// ParseReference parses ref and validates its parts.
func ParseReference(ref string) (Reference, error) {
	r, err := registry.ParseReference(ref)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %q: %w", ErrInvalidReference, ref, err)
	}
	return Reference{
		Registry:   r.Registry,
		Repository: r.Repository,
		Reference:  r.Reference,
	}, nil
}

// Repo returns the reference without its tag or digest.
func (r Reference) Repo() string {
	return r.Registry + "/" + r.Repository
}

// Digest returns the digest part of the reference and whether there is one.
func (r Reference) Digest() (digest.Digest, bool) {
	d, err := digest.Parse(r.Reference)
	if err != nil {
		return "", false
	}
	return d, true
}

// Tag returns the tag part of the reference, or "" for digest references.
func (r Reference) Tag() string {
	if _, ok := r.Digest(); ok {
		return ""
	}
	return r.Reference
}

// WithReference returns a copy of r pointing at tag or digest.
func (r Reference) WithReference(reference string) Reference {
	r.Reference = reference
	return r
}

// String formats the reference.
func (r Reference) String() string {
	switch {
	case r.Reference == "":
		return r.Repo()
	case isDigestString(r.Reference):
		return r.Repo() + "@" + r.Reference
	default:
		return r.Repo() + ":" + r.Reference
	}
}

func isDigestString(s string) bool {
	_, err := digest.Parse(s)
	return err == nil
}
