package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry/remote/errcode"
)

var errNotImplemented = errors.New("not implemented in mock")

// mockOCIClient is a test mock for OCIClient. Methods can be configured via
// function fields or will return errNotImplemented by default.
type mockOCIClient struct {
	BlobExistsFunc    func(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (bool, error)
	PushBlobFunc      func(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error
	FetchBlobFunc     func(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (io.ReadCloser, error)
	PushManifestFunc  func(ctx context.Context, repoRef, tag string, desc *ocispec.Descriptor, raw []byte) error
	FetchManifestFunc func(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, []byte, error)
	ResolveFunc       func(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, error)
	TagFunc           func(ctx context.Context, repoRef string, desc *ocispec.Descriptor, tag string) error
}

func (m *mockOCIClient) BlobExists(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (bool, error) {
	if m.BlobExistsFunc != nil {
		return m.BlobExistsFunc(ctx, repoRef, desc)
	}
	return false, errNotImplemented
}

func (m *mockOCIClient) PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error {
	if m.PushBlobFunc != nil {
		return m.PushBlobFunc(ctx, repoRef, desc, r)
	}
	return errNotImplemented
}

func (m *mockOCIClient) FetchBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor) (io.ReadCloser, error) {
	if m.FetchBlobFunc != nil {
		return m.FetchBlobFunc(ctx, repoRef, desc)
	}
	return nil, errNotImplemented
}

func (m *mockOCIClient) PushManifest(ctx context.Context, repoRef, tag string, desc *ocispec.Descriptor, raw []byte) error {
	if m.PushManifestFunc != nil {
		return m.PushManifestFunc(ctx, repoRef, tag, desc, raw)
	}
	return errNotImplemented
}

func (m *mockOCIClient) FetchManifest(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, []byte, error) {
	if m.FetchManifestFunc != nil {
		return m.FetchManifestFunc(ctx, repoRef, reference)
	}
	return ocispec.Descriptor{}, nil, errNotImplemented
}

func (m *mockOCIClient) Resolve(ctx context.Context, repoRef, reference string) (ocispec.Descriptor, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, repoRef, reference)
	}
	return ocispec.Descriptor{}, errNotImplemented
}

func (m *mockOCIClient) Tag(ctx context.Context, repoRef string, desc *ocispec.Descriptor, tag string) error {
	if m.TagFunc != nil {
		return m.TagFunc(ctx, repoRef, desc, tag)
	}
	return errNotImplemented
}

// newTestClient returns a client over m that retries without delay.
func newTestClient(m *mockOCIClient, opts ...Option) *Client {
	base := []Option{
		WithOCIClient(m),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3}),
	}
	return New(append(base, opts...)...)
}

// statusError builds the error ORAS returns for an HTTP error response.
func statusError(code int, codes ...string) error {
	resp := &errcode.ErrorResponse{
		Method:     http.MethodGet,
		URL:        &url.URL{Scheme: "https", Host: "registry.example.com", Path: "/v2/"},
		StatusCode: code,
	}
	for _, c := range codes {
		resp.Errors = append(resp.Errors, errcode.Error{Code: c})
	}
	return resp
}

// timeoutError is a net.Error reporting a timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// zeroBackoff retries immediately.
func zeroBackoff(int, *http.Response) time.Duration { return 0 }
