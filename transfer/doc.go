// Package transfer drives push and pull of application artifacts.
//
// An Engine ties an artifact.Builder, a cache and a registry.Client
// together. Push builds the artifact, asks the registry which blobs it
// lacks, uploads only those, and uploads the manifest last so a tag never
// points at an incomplete artifact. Pull fetches the manifest, downloads
// and verifies the blobs the cache lacks, and materializes the application
// only once every blob is present.
//
// Blob transfers run on a bounded worker pool. Concurrent sessions of one
// Engine that need the same blob share a single in-flight transfer.
package transfer
