// Package oras implements registry.OCIClient on top of the ORAS library.
//
// Client speaks the OCI distribution protocol for blobs, manifests and tags.
// Credentials are explicit options: a bearer token supplied by an external
// auth collaborator, static credentials, or the Docker credential store.
// Retries are left to the caller; each method performs a single request
// sequence.
package oras
