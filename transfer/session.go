package transfer

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// Kind identifies the workflow a session runs.
type Kind string

// Session kinds.
const (
	KindPush  Kind = "push"
	KindPull  Kind = "pull"
	KindFetch Kind = "fetch"
)

// State is a step of the push or pull workflow.
type State string

// Push states.
const (
	StateBuilding          State = "building"
	StateDiffingRemote     State = "diffing-remote"
	StateUploadingBlobs    State = "uploading-blobs"
	StateUploadingManifest State = "uploading-manifest"
)

// Pull states.
const (
	StateFetchingManifest State = "fetching-manifest"
	StateDiffingLocal     State = "diffing-local"
	StateDownloadingBlobs State = "downloading-blobs"
	StateMaterializing    State = "materializing"
)

// Terminal states.
const (
	StateDone   State = "done"
	StateFailed State = "failed"
)

// Session is the state of one push or pull. It lives only for the
// duration of the operation and is never persisted.
type Session struct {
	id   string
	kind Kind
	ref  string

	mu        sync.Mutex
	state     State
	confirmed map[digest.Digest]struct{}
	inflight  map[digest.Digest]struct{}
	progress  ProgressFunc
}

func newSession(kind Kind, ref string, progress ProgressFunc) *Session {
	return &Session{
		id:        uuid.NewString(),
		kind:      kind,
		ref:       ref,
		confirmed: make(map[digest.Digest]struct{}),
		inflight:  make(map[digest.Digest]struct{}),
		progress:  progress,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Kind returns the workflow the session runs.
func (s *Session) Kind() Kind { return s.kind }

// Ref returns the artifact reference the session targets.
func (s *Session) Ref() string { return s.ref }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Confirmed returns the digests known to be present at the destination,
// sorted.
func (s *Session) Confirmed() []digest.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.confirmed)
}

// InFlight returns the digests currently being transferred, sorted.
func (s *Session) InFlight() []digest.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.inflight)
}

func (s *Session) enter(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: state})
}

func (s *Session) confirm(d digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, d)
	s.confirmed[d] = struct{}{}
}

func (s *Session) start(d digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[d] = struct{}{}
}

func (s *Session) abandon(d digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, d)
}

func (s *Session) emit(ev Event) {
	if s.progress == nil {
		return
	}
	ev.SessionID = s.id
	ev.Ref = s.ref
	if ev.State == "" {
		ev.State = s.State()
	}
	s.progress(ev)
}

func sortedKeys(m map[digest.Digest]struct{}) []digest.Digest {
	out := make([]digest.Digest, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
