// Package registrytest provides an in-memory registry.OCIClient for tests.
//
// Registry stores each repository in an ORAS memory store, counts every
// call by operation and digest, and can inject failures, corrupt blob
// downloads, or block calls to observe concurrency.
package registrytest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/meigma/appoci/registry"
	"github.com/meigma/appoci/registry/oras"
)

// Op names a registry.OCIClient method.
type Op string

// Operations recorded by Registry.
const (
	OpBlobExists    Op = "BlobExists"
	OpPushBlob      Op = "PushBlob"
	OpFetchBlob     Op = "FetchBlob"
	OpPushManifest  Op = "PushManifest"
	OpFetchManifest Op = "FetchManifest"
	OpResolve       Op = "Resolve"
	OpTag           Op = "Tag"
)

// Hook runs at the start of every call, after the call is counted. A hook
// may block; the call proceeds when it returns.
type Hook func(ctx context.Context, op Op, dgst digest.Digest)

// Registry is an in-memory OCI registry. The zero value is not usable;
// call New.
type Registry struct {
	mu       sync.Mutex
	repos    map[string]*repository
	calls    map[Op]map[digest.Digest]int
	inflight map[Op]int
	peak     map[Op]int
	faults   []*fault
	corrupt  map[digest.Digest]int
	hook     Hook
	received int64
}

type fault struct {
	op        Op
	dgst      digest.Digest
	remaining int
	err       error
}

var _ registry.OCIClient = (*Registry)(nil)

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		repos:    make(map[string]*repository),
		calls:    make(map[Op]map[digest.Digest]int),
		inflight: make(map[Op]int),
		peak:     make(map[Op]int),
		corrupt:  make(map[digest.Digest]int),
	}
}

// SetHook installs h, replacing any previous hook.
func (r *Registry) SetHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = h
}

// Fail makes the next times calls of op fail with err. An empty dgst
// matches any digest; manifest operations match on the reference digest
// when one is known.
func (r *Registry) Fail(op Op, dgst digest.Digest, times int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, &fault{op: op, dgst: dgst, remaining: times, err: err})
}

// CorruptBlob makes the next times downloads of dgst return altered bytes
// of the right length.
func (r *Registry) CorruptBlob(dgst digest.Digest, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupt[dgst] += times
}

// Calls returns how often op was called for dgst.
func (r *Registry) Calls(op Op, dgst digest.Digest) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op][dgst]
}

// Total returns how often op was called across all digests.
func (r *Registry) Total(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls[op] {
		n += c
	}
	return n
}

// MaxInFlight returns the highest number of concurrent calls of op seen.
func (r *Registry) MaxInFlight(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak[op]
}

// ResetCounters clears call counts and concurrency peaks. Stored content
// and pending faults are kept.
func (r *Registry) ResetCounters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[Op]map[digest.Digest]int)
	r.peak = make(map[Op]int)
	r.received = 0
}

// BytesReceived returns the number of blob bytes uploaded through PushBlob,
// including uploads of blobs the registry already stored.
func (r *Registry) BytesReceived() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

// HasBlob reports whether repoRef stores dgst.
func (r *Registry) HasBlob(repoRef string, dgst digest.Digest) bool {
	_, ok := r.repo(repoRef).blob(dgst)
	return ok
}

// ManifestFor returns the manifest tag points at in repoRef.
func (r *Registry) ManifestFor(repoRef, tag string) (ocispec.Descriptor, []byte, bool) {
	rp := r.repo(repoRef)
	desc, err := rp.store.Resolve(context.Background(), tag)
	if err != nil {
		return ocispec.Descriptor{}, nil, false
	}
	raw, err := rp.fetch(context.Background(), desc)
	if err != nil {
		return ocispec.Descriptor{}, nil, false
	}
	return desc, raw, true
}

// BlobExists implements registry.OCIClient.
func (r *Registry) BlobExists(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (bool, error) {
	done, err := r.begin(ctx, OpBlobExists, desc.Digest)
	defer done()
	if err != nil {
		return false, err
	}
	_, ok := r.repo(repoRef).blob(desc.Digest)
	return ok, nil
}

// PushBlob implements registry.OCIClient.
func (r *Registry) PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, rd io.Reader) error {
	done, err := r.begin(ctx, OpPushBlob, desc.Digest)
	defer done()
	if err != nil {
		return err
	}
	// Like a real registry, a repeated push transfers the content again.
	raw, err := io.ReadAll(rd)
	r.mu.Lock()
	r.received += int64(len(raw))
	r.mu.Unlock()
	if err != nil {
		return err
	}
	rp := r.repo(repoRef)
	if _, ok := rp.blob(desc.Digest); ok {
		return nil
	}
	if err := rp.store.Push(ctx, *desc, bytes.NewReader(raw)); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return translate(err)
	}
	rp.addBlob(*desc)
	return nil
}

// FetchBlob implements registry.OCIClient.
func (r *Registry) FetchBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (io.ReadCloser, error) {
	done, err := r.begin(ctx, OpFetchBlob, desc.Digest)
	defer done()
	if err != nil {
		return nil, err
	}
	rp := r.repo(repoRef)
	stored, ok := rp.blob(desc.Digest)
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", oras.ErrNotFound, desc.Digest)
	}
	raw, err := rp.fetch(ctx, stored)
	if err != nil {
		return nil, translate(err)
	}
	if r.takeCorruption(desc.Digest) && len(raw) > 0 {
		raw = bytes.Clone(raw)
		raw[len(raw)/2] ^= 0xff
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

// PushManifest implements registry.OCIClient. Manifests whose config or
// layers are missing from the repository are rejected.
func (r *Registry) PushManifest(ctx context.Context, repoRef, tag string, desc *ocispec.Descriptor, raw []byte) error {
	done, err := r.begin(ctx, OpPushManifest, desc.Digest)
	defer done()
	if err != nil {
		return err
	}

	var m ocispec.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return statusError(http.StatusBadRequest, "MANIFEST_INVALID")
	}
	rp := r.repo(repoRef)
	for _, blob := range append([]ocispec.Descriptor{m.Config}, m.Layers...) {
		if _, ok := rp.blob(blob.Digest); !ok {
			return statusError(http.StatusBadRequest, "MANIFEST_BLOB_UNKNOWN")
		}
	}

	stored, ok := rp.manifest(desc.Digest)
	if !ok {
		if err := rp.store.Push(ctx, *desc, bytes.NewReader(raw)); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
			return translate(err)
		}
		rp.addManifest(*desc)
		stored = *desc
	}
	if tag == "" {
		return nil
	}
	return translate(rp.store.Tag(ctx, stored, tag))
}

// FetchManifest implements registry.OCIClient.
func (r *Registry) FetchManifest(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, []byte, error) {
	rp := r.repo(repoRef)
	desc, rerr := rp.resolve(ctx, reference)
	done, err := r.begin(ctx, OpFetchManifest, desc.Digest)
	defer done()
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	if rerr != nil {
		return ocispec.Descriptor{}, nil, rerr
	}
	raw, err := rp.fetch(ctx, desc)
	if err != nil {
		return ocispec.Descriptor{}, nil, translate(err)
	}
	return desc, raw, nil
}

// Resolve implements registry.OCIClient.
func (r *Registry) Resolve(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, error) {
	desc, rerr := r.repo(repoRef).resolve(ctx, reference)
	done, err := r.begin(ctx, OpResolve, desc.Digest)
	defer done()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, rerr
}

// Tag implements registry.OCIClient.
func (r *Registry) Tag(ctx context.Context, repoRef string, desc *ocispec.Descriptor, tag string) error {
	done, err := r.begin(ctx, OpTag, desc.Digest)
	defer done()
	if err != nil {
		return err
	}
	rp := r.repo(repoRef)
	stored, ok := rp.manifest(desc.Digest)
	if !ok {
		return fmt.Errorf("%w: manifest %s", oras.ErrNotFound, desc.Digest)
	}
	return translate(rp.store.Tag(ctx, stored, tag))
}

// begin records a call, applies any pending fault, and runs the hook.
// The returned function ends the call.
func (r *Registry) begin(ctx context.Context, op Op, dgst digest.Digest) (func(), error) {
	r.mu.Lock()
	if r.calls[op] == nil {
		r.calls[op] = make(map[digest.Digest]int)
	}
	r.calls[op][dgst]++
	r.inflight[op]++
	if r.inflight[op] > r.peak[op] {
		r.peak[op] = r.inflight[op]
	}
	hook := r.hook
	err := r.takeFault(op, dgst)
	r.mu.Unlock()

	done := func() {
		r.mu.Lock()
		r.inflight[op]--
		r.mu.Unlock()
	}
	if hook != nil {
		hook(ctx, op, dgst)
	}
	if err != nil {
		return done, err
	}
	return done, ctx.Err()
}

// takeFault must be called with r.mu held.
func (r *Registry) takeFault(op Op, dgst digest.Digest) error {
	for i, f := range r.faults {
		if f.op != op || (f.dgst != "" && f.dgst != dgst) {
			continue
		}
		f.remaining--
		if f.remaining <= 0 {
			r.faults = append(r.faults[:i], r.faults[i+1:]...)
		}
		return f.err
	}
	return nil
}

func (r *Registry) takeCorruption(dgst digest.Digest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.corrupt[dgst] == 0 {
		return false
	}
	r.corrupt[dgst]--
	return true
}

func (r *Registry) repo(repoRef string) *repository {
	r.mu.Lock()
	defer r.mu.Unlock()
	rp, ok := r.repos[repoRef]
	if !ok {
		rp = &repository{
			store:     memory.New(),
			blobs:     make(map[digest.Digest]ocispec.Descriptor),
			manifests: make(map[digest.Digest]ocispec.Descriptor),
		}
		r.repos[repoRef] = rp
	}
	return rp
}

// repository is one repository's content. The memory store keys content
// by full descriptor, so descriptors are indexed by digest alongside it.
type repository struct {
	store *memory.Store

	mu        sync.Mutex
	blobs     map[digest.Digest]ocispec.Descriptor
	manifests map[digest.Digest]ocispec.Descriptor
}

func (rp *repository) blob(d digest.Digest) (ocispec.Descriptor, bool) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	desc, ok := rp.blobs[d]
	return desc, ok
}

func (rp *repository) addBlob(desc ocispec.Descriptor) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if _, ok := rp.blobs[desc.Digest]; !ok {
		rp.blobs[desc.Digest] = desc
	}
}

func (rp *repository) manifest(d digest.Digest) (ocispec.Descriptor, bool) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	desc, ok := rp.manifests[d]
	return desc, ok
}

func (rp *repository) addManifest(desc ocispec.Descriptor) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.manifests[desc.Digest] = desc
}

func (rp *repository) resolve(ctx context.Context, reference string) (ocispec.Descriptor, error) {
	if d, err := digest.Parse(reference); err == nil {
		desc, ok := rp.manifest(d)
		if !ok {
			return ocispec.Descriptor{}, fmt.Errorf("%w: manifest %s", oras.ErrNotFound, d)
		}
		return desc, nil
	}
	desc, err := rp.store.Resolve(ctx, reference)
	if err != nil {
		return ocispec.Descriptor{}, translate(err)
	}
	return desc, nil
}

func (rp *repository) fetch(ctx context.Context, desc ocispec.Descriptor) ([]byte, error) {
	rc, err := rp.store.Fetch(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// translate maps memory store errors to what the ORAS client reports.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errdef.ErrNotFound):
		return fmt.Errorf("%w: %w", oras.ErrNotFound, err)
	case errors.Is(err, errdef.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", oras.ErrAlreadyExists, err)
	default:
		return statusError(http.StatusBadRequest, "DIGEST_INVALID")
	}
}

// StatusError builds the error a registry HTTP response with the given
// status and error codes produces.
func StatusError(code int, codes ...string) error {
	return statusError(code, codes...)
}

func statusError(code int, codes ...string) error {
	resp := &errcode.ErrorResponse{
		Method:     http.MethodPut,
		URL:        &url.URL{Scheme: "https", Host: "registry.test", Path: "/v2/"},
		StatusCode: code,
	}
	for _, c := range codes {
		resp.Errors = append(resp.Errors, errcode.Error{Code: c})
	}
	return resp
}
