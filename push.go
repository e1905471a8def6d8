package appoci

import (
	"context"
	"time"

	"github.com/meigma/appoci/artifact"
	"github.com/meigma/appoci/transfer"
)

// PushOption configures a single push.
type PushOption func(*pushConfig)

type pushConfig struct {
	tags  []string
	build []artifact.BuildOption
}

// PushWithTags points additional tags at the pushed manifest.
func PushWithTags(tags ...string) PushOption {
	return func(c *pushConfig) {
		c.tags = append(c.tags, tags...)
	}
}

// PushWithAnnotations sets manifest annotations.
func PushWithAnnotations(annotations map[string]string) PushOption {
	return func(c *pushConfig) {
		c.build = append(c.build, artifact.WithAnnotations(annotations))
	}
}

// PushWithCreated records t as the creation time of the manifest.
// Pushes without it produce the same manifest for the same input.
func PushWithCreated(t time.Time) PushOption {
	return func(c *pushConfig) {
		c.build = append(c.build, artifact.WithCreated(t))
	}
}

// Push builds app and uploads it to ref.
//
// A ref without a tag is tagged with the application version. Blobs the
// registry already has are skipped, and the manifest is uploaded only once
// every blob it references is confirmed present.
func (c *Client) Push(ctx context.Context, app *Application, ref string, opts ...PushOption) (*PushResult, error) {
	var cfg pushConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	var topts []transfer.PushOption
	if len(cfg.tags) > 0 {
		topts = append(topts, transfer.WithTags(cfg.tags...))
	}
	if len(cfg.build) > 0 {
		topts = append(topts, transfer.WithBuildOptions(cfg.build...))
	}
	return c.engine.Push(ctx, app, ref, topts...)
}
