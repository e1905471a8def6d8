// Package appoci packages multi-component serverless applications as OCI
// artifacts and moves them between a local cache and an OCI registry.
//
// An application is a set of components, each a binary with optional
// static assets. Building it produces one layer per component binary,
// asset archives, and a config blob holding the application metadata;
// every blob is staged in a content-addressed cache. Push uploads only the
// blobs the registry lacks and uploads the manifest last. Pull downloads
// only the blobs the cache lacks, verifies each one, and materializes the
// application into a directory.
//
// # Quick Start
//
// Push an application:
//
//	c, err := appoci.NewClient(appoci.WithDockerConfig())
//	if err != nil {
//	    return err
//	}
//	res, err := c.Push(ctx, app, "ghcr.io/myorg/hello:1.0.0")
//
// Pull it somewhere else:
//
//	res, err := c.Pull(ctx, "ghcr.io/myorg/hello:1.0.0", "./hello")
//
// # Configuration
//
// Settings can come from a YAML file and APPOCI_* environment variables:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	c, err := appoci.NewClient(appoci.WithConfig(cfg), appoci.WithDockerConfig())
//
// Options given after WithConfig override individual settings.
package appoci
