package log

import (
	"bytes"
	"log/slog"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	slogcontext "github.com/veqryn/slog-context"
)

func newTextLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "time" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func TestOperation(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := slogcontext.NewCtx(t.Context(), newTextLogger(&buf).With(slog.String("session", "s1")))

	done := Operation(ctx, "push", slog.String("ref", "example.com/app:v1"))
	assert.Equal(t, "level=DEBUG msg=\"operation starting\" session=s1 operation=push ref=example.com/app:v1\n", buf.String())

	buf.Reset()
	done(nil)
	assert.Contains(t, buf.String(), "level=DEBUG msg=\"operation completed\" session=s1 operation=push")

	buf.Reset()
	done(assert.AnError)
	assert.Contains(t, buf.String(), "level=ERROR msg=\"operation failed\" session=s1 operation=push")
	assert.Contains(t, buf.String(), "error=\"assert.AnError general error for testing\"")
}

func TestDescriptorAttr(t *testing.T) {
	t.Parallel()

	attr := DescriptorAttr(ocispec.Descriptor{
		MediaType:    "application/vnd.oci.image.manifest.v1+json",
		Digest:       "sha256:1234567890abcdef",
		Size:         1024,
		ArtifactType: "application/vnd.appoci.application.v1",
	})
	assert.Equal(t, "descriptor", attr.Key)

	group, ok := attr.Value.Any().([]slog.Attr)
	require.True(t, ok)
	require.Len(t, group, 4)
	assert.Equal(t, "mediaType", group[0].Key)
	assert.Equal(t, "sha256:1234567890abcdef", group[1].Value.String())
	assert.Equal(t, int64(1024), group[2].Value.Int64())

	attr = DescriptorAttr(ocispec.Descriptor{Digest: "sha256:abc"})
	group, ok = attr.Value.Any().([]slog.Attr)
	require.True(t, ok)
	assert.Len(t, group, 3)
}

func TestOr(t *testing.T) {
	t.Parallel()

	assert.Same(t, Discard, Or(nil))
	l := slog.New(slog.DiscardHandler)
	assert.Same(t, l, Or(l))
}
