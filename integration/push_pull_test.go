//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/appoci"
)

func TestPushPull_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	addr := getRegistry(t)
	app, want := sampleApp(t)
	ref := testRef(addr, "roundtrip", "v1")

	dev := newTestClient(t)
	pushed, err := dev.Push(ctx, app, ref)
	require.NoError(t, err)
	// Three binaries, two asset archives and the config.
	assert.Equal(t, 6, pushed.Uploaded)

	prod := newTestClient(t)
	dest := filepath.Join(t.TempDir(), "app")
	pulled, err := prod.Pull(ctx, ref, dest)
	require.NoError(t, err)
	assert.Equal(t, pushed.Manifest.Digest(), pulled.Manifest.Digest())
	assert.Equal(t, 6, pulled.Downloaded)
	assertDirContents(t, dest, want)
}

func TestPush_SecondPushUploadsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	addr := getRegistry(t)
	app, _ := sampleApp(t)
	ref := testRef(addr, "idempotent", "v1")
	c := newTestClient(t)

	_, err := c.Push(ctx, app, ref)
	require.NoError(t, err)

	again, err := c.Push(ctx, app, ref)
	require.NoError(t, err)
	assert.Zero(t, again.Uploaded)
	assert.Equal(t, 6, again.Skipped)
	assert.True(t, again.ManifestSkipped)
}

func TestPush_DefaultTagAndExtraTags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	addr := getRegistry(t)
	app, _ := sampleApp(t)
	repo := addr + "/test/tags"
	c := newTestClient(t)

	res, err := c.Push(ctx, app, repo, appoci.PushWithTags("latest"))
	require.NoError(t, err)
	assert.Equal(t, repo+":1.0.0", res.Ref)

	for _, tag := range []string{"1.0.0", "latest"} {
		desc, err := c.Resolve(ctx, repo+":"+tag)
		require.NoError(t, err, tag)
		assert.Equal(t, res.Manifest.Digest(), desc.Digest, tag)
	}
}

func TestPush_SharedAssetsAcrossVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	addr := getRegistry(t)
	c := newTestClient(t)

	first, _ := sampleApp(t)
	_, err := c.Push(ctx, first, testRef(addr, "versions", "v1"))
	require.NoError(t, err)

	// Only the web binary and the config differ.
	second, _ := sampleApp(t)
	res, err := c.Push(ctx, second, testRef(addr, "versions", "v2"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 4, res.Skipped)
}

func TestPull_ByDigest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	addr := getRegistry(t)
	app, want := sampleApp(t)
	c := newTestClient(t)

	res, err := c.Push(ctx, app, testRef(addr, "bydigest", "v1"))
	require.NoError(t, err)

	ref := addr + "/test/bydigest@" + res.Manifest.Digest().String()
	dest := filepath.Join(t.TempDir(), "app")
	_, err = newTestClient(t).Pull(ctx, ref, dest)
	require.NoError(t, err)
	assertDirContents(t, dest, want)
}

func TestPull_ConcurrentClientsShareCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	addr := getRegistry(t)
	app, want := sampleApp(t)
	ref := testRef(addr, "concurrent", "v1")
	_, err := newTestClient(t).Push(ctx, app, ref)
	require.NoError(t, err)

	c := newTestClient(t)
	base := t.TempDir()
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Pull(ctx, ref, filepath.Join(base, string(rune('a'+i))))
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err)
		assertDirContents(t, filepath.Join(base, string(rune('a'+i))), want)
	}
}

func TestPull_NotFound(t *testing.T) {
	t.Parallel()

	addr := getRegistry(t)
	dest := filepath.Join(t.TempDir(), "app")
	_, err := newTestClient(t).Pull(context.Background(), testRef(addr, "nonexistent-app-12345", "v1"), dest)
	require.ErrorIs(t, err, appoci.ErrNotFound)
	assert.NoDirExists(t, dest)
}

func TestError_InvalidReference(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	for _, ref := range []string{"not a ref", "://missing-scheme", ""} {
		t.Run(ref, func(t *testing.T) {
			t.Parallel()
			_, err := c.Fetch(context.Background(), ref)
			assert.ErrorIs(t, err, appoci.ErrInvalidReference)
		})
	}
}
