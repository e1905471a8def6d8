// Package log provides structured logging helpers shared by appoci packages.
package log

import (
	"context"
	"log/slog"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	slogcontext "github.com/veqryn/slog-context"
)

// Discard is a logger that drops every record.
var Discard = slog.New(slog.DiscardHandler)

// Or returns l, or Discard when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard
	}
	return l
}

// Operation logs the start of an operation and returns a function that logs
// its completion or failure together with the elapsed time.
//
// The logger is taken from ctx, so session attributes attached with
// slogcontext.NewCtx are carried on every record.
func Operation(ctx context.Context, operation string, fields ...slog.Attr) func(error) {
	start := time.Now()
	attrs := make([]any, 0, len(fields)+1)
	attrs = append(attrs, slog.String("operation", operation))
	for _, field := range fields {
		attrs = append(attrs, field)
	}
	logger := slogcontext.FromCtx(ctx).With(attrs...)
	logger.Log(ctx, slog.LevelDebug, "operation starting")
	return func(err error) {
		if err != nil {
			logger.Log(ctx, slog.LevelError, "operation failed",
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()))
			return
		}
		logger.Log(ctx, slog.LevelDebug, "operation completed", slog.Duration("duration", time.Since(start)))
	}
}

// DescriptorAttr creates a log attribute for an OCI descriptor.
func DescriptorAttr(desc ocispec.Descriptor) slog.Attr {
	args := []any{
		slog.String("mediaType", desc.MediaType),
		slog.String("digest", desc.Digest.String()),
		slog.Int64("size", desc.Size),
	}
	if desc.ArtifactType != "" {
		args = append(args, slog.String("artifactType", desc.ArtifactType))
	}
	return slog.Group("descriptor", args...)
}
