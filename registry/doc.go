// Package registry is the remote half of appoci: it moves content-addressed
// blobs and application manifests between the local cache and an OCI
// registry.
//
// Client wraps an OCIClient (the ORAS-based implementation in the oras
// subpackage by default) and adds what the transfer engine relies on:
// reference parsing, a bounded retry policy with per-attempt timeouts,
// end-to-end digest verification of everything it downloads, and a small
// set of sentinel errors that classify failures as transient, permanent,
// or integrity violations.
package registry
