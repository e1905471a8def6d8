// Package artifact converts application descriptions into OCI artifacts
// and artifacts back into files on disk.
//
// A built artifact is an OCI image manifest with artifact type
// [ArtifactType]. Its config blob is the JSON application metadata
// ([Config]). Each component contributes one layer holding its binary and,
// when it has assets, one zstd-compressed tar archive of them. Assets at
// or above the split threshold get a layer of their own. Layers carry
// annotations naming their role, component and path, so a pulled
// manifest can be materialized without any other input.
//
// Builds are deterministic: the same application and options always
// produce the same manifest digest.
package artifact
