package transfer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Error reports the step and blob a push or pull failed on.
type Error struct {
	// Op is the workflow, "push", "pull" or "fetch".
	Op string

	// State is the workflow state the failure happened in.
	State State

	// Digest is the blob being transferred, if any.
	Digest digest.Digest

	// Path names the layer the blob belongs to, if known.
	Path string

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed while %s", e.Op, e.State)
	if e.Digest != "" {
		fmt.Fprintf(&b, ": blob %s", e.Digest)
		if e.Path != "" {
			fmt.Fprintf(&b, " (%s)", e.Path)
		}
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// fail records the failure on s and wraps err. Errors that already name
// a failing blob are returned unchanged.
func (s *Session) fail(err error) error {
	var terr *Error
	if !errors.As(err, &terr) {
		terr = &Error{Op: string(s.kind), State: s.State(), Err: err}
	}
	s.emit(Event{Kind: EventFailed, State: terr.State, Err: terr})
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()
	return terr
}

// blobError wraps err with the blob it concerns.
func (s *Session) blobError(d digest.Digest, path string, err error) error {
	return &Error{Op: string(s.kind), State: s.State(), Digest: d, Path: path, Err: err}
}
