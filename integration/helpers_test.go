//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/appoci"
)

// --- Registry Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container if needed.
// The container is shared across all tests for performance.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		ctx := context.Background()
		registryAddr, registryErr = startRegistryContainer(ctx)
	})

	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}

	return registryAddr
}

// startRegistryContainer starts a registry:2 container and returns the host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Test Client Factory ---

// newTestClient creates a client with its own cache, configured for the
// local test registry.
func newTestClient(tb testing.TB, opts ...appoci.Option) *appoci.Client {
	tb.Helper()

	allOpts := append([]appoci.Option{
		appoci.WithPlainHTTP(true),
		appoci.WithCacheDir(tb.TempDir()),
	}, opts...)

	client, err := appoci.NewClient(allOpts...)
	require.NoError(tb, err, "create test client")

	return client
}

// testRef generates a unique reference for a test to avoid collisions.
func testRef(registryAddr, testName, tag string) string {
	return fmt.Sprintf("%s/test/%s:%s", registryAddr, testName, tag)
}

// --- Test Data Helpers ---

// writeFiles writes files to a directory.
func writeFiles(tb testing.TB, dir string, files map[string][]byte) {
	tb.Helper()
	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		require.NoError(tb, os.MkdirAll(filepath.Dir(fullPath), 0o755))
		require.NoError(tb, os.WriteFile(fullPath, content, 0o644))
	}
}

// makeRandomContent creates random binary content.
func makeRandomContent(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}

// sampleApp writes a three-component application with assets to a fresh
// directory. The web binary is random so each call produces a distinct
// artifact while the assets stay shared.
func sampleApp(tb testing.TB) (*appoci.Application, map[string][]byte) {
	tb.Helper()

	root := tb.TempDir()
	web := makeRandomContent(64 * 1024)
	files := map[string][]byte{
		"target/web.wasm":    web,
		"target/api.wasm":    []byte("api component"),
		"target/worker.wasm": []byte("worker component"),
		"static/index.html":  []byte("<h1>hello</h1>"),
		"static/app.js":      []byte("console.log('hi')"),
		"data/seed.json":     []byte(`{"rows":[1,2,3]}`),
	}
	writeFiles(tb, root, files)

	app := &appoci.Application{
		Name:    "sample",
		Version: "1.0.0",
		Root:    root,
		Components: []appoci.Component{
			{
				ID:     "web",
				Source: appoci.FileComponent{Path: "target/web.wasm"},
				Assets: []appoci.AssetSource{appoci.FileAsset{Path: "static", Destination: "static"}},
			},
			{
				ID:     "api",
				Source: appoci.FileComponent{Path: "target/api.wasm"},
				Assets: []appoci.AssetSource{appoci.FileAsset{Path: "data/seed.json", Destination: "data/seed.json"}},
			},
			{ID: "worker", Source: appoci.FileComponent{Path: "target/worker.wasm"}},
		},
		Triggers: []appoci.Trigger{
			{Type: "http", Component: "web", Config: map[string]string{"route": "/..."}},
			{Type: "http", Component: "api", Config: map[string]string{"route": "/api/..."}},
		},
		KeyValueStores: []string{"default"},
	}

	materialized := map[string][]byte{
		"web.wasm":          web,
		"api.wasm":          files["target/api.wasm"],
		"worker.wasm":       files["target/worker.wasm"],
		"static/index.html": files["static/index.html"],
		"static/app.js":     files["static/app.js"],
		"data/seed.json":    files["data/seed.json"],
	}
	return app, materialized
}

// assertDirContents verifies that a directory contains exactly the expected files.
func assertDirContents(tb testing.TB, dir string, expected map[string][]byte) {
	tb.Helper()

	got := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		got[filepath.ToSlash(rel)] = data
		return nil
	})
	require.NoError(tb, err)
	require.Equal(tb, expected, got)
}
