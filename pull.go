package appoci

import "context"

// Pull downloads the application at ref and materializes it into dest.
//
// Blobs already cached are not downloaded. dest is replaced only after
// every blob is present and verified; a failed pull leaves it untouched.
func (c *Client) Pull(ctx context.Context, ref, dest string) (*PullResult, error) {
	return c.engine.Pull(ctx, ref, dest)
}

// Fetch downloads the application at ref into the cache without
// materializing it. Use [Client.Materialize] to write it out later.
func (c *Client) Fetch(ctx context.Context, ref string) (*PullResult, error) {
	return c.engine.Fetch(ctx, ref)
}
