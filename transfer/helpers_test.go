package transfer

import (
	"sync"
	"testing"

	"github.com/meigma/appoci/artifact"
	"github.com/meigma/appoci/cache/disk"
	"github.com/meigma/appoci/internal/testutil"
	"github.com/meigma/appoci/registry"
	"github.com/meigma/appoci/registry/registrytest"
)

const repo = "registry.test/apps/sample"

// sampleSources are the files of a three-component application with one
// asset each on two components.
var sampleSources = map[string]string{
	"target/web.wasm":    "web component bytes",
	"target/api.wasm":    "api component bytes",
	"target/worker.wasm": "worker component bytes",
	"static/index.html":  "<h1>hello</h1>",
	"data/seed.json":     `{"rows":[1,2,3]}`,
}

// sampleMaterialized is what pulling the sample application yields.
var sampleMaterialized = map[string]string{
	"web.wasm":          "web component bytes",
	"api.wasm":          "api component bytes",
	"worker.wasm":       "worker component bytes",
	"static/index.html": "<h1>hello</h1>",
	"data/seed.json":    `{"rows":[1,2,3]}`,
}

func sampleApp(t *testing.T) *artifact.Application {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, sampleSources)
	return &artifact.Application{
		Name:    "sample",
		Version: "0.1.0",
		Root:    root,
		Components: []artifact.Component{
			{
				ID:     "web",
				Source: artifact.FileComponent{Path: "target/web.wasm"},
				Assets: []artifact.AssetSource{artifact.FileAsset{Path: "static/index.html", Destination: "static/index.html"}},
			},
			{
				ID:     "api",
				Source: artifact.FileComponent{Path: "target/api.wasm"},
				Assets: []artifact.AssetSource{artifact.FileAsset{Path: "data", Destination: "data"}},
			},
			{ID: "worker", Source: artifact.FileComponent{Path: "target/worker.wasm"}},
		},
		Triggers: []artifact.Trigger{{Type: "http", Component: "web", Config: map[string]string{"route": "/..."}}},
	}
}

// inlineApp is a single-component application with one asset.
func inlineApp(name, binary, asset string) *artifact.Application {
	return &artifact.Application{
		Name:    name,
		Version: "1.0.0",
		Components: []artifact.Component{{
			ID:     "site",
			Source: artifact.InlineComponent{Name: "site.wasm", Data: []byte(binary)},
			Assets: []artifact.AssetSource{artifact.InlineAsset{Destination: "static/logo.svg", Data: []byte(asset)}},
		}},
	}
}

// side is one machine: a cache, a builder over it and an engine.
type side struct {
	cache   *disk.Cache
	builder *artifact.Builder
	engine  *Engine
}

// harness is a fake registry shared by any number of sides.
type harness struct {
	reg    *registrytest.Registry
	client *registry.Client

	mu     sync.Mutex
	events []Event
}

func newHarness() *harness {
	reg := registrytest.New()
	return &harness{
		reg:    reg,
		client: registry.New(registry.WithOCIClient(reg), registry.WithRetryPolicy(registry.RetryPolicy{MaxAttempts: 3})),
	}
}

func (h *harness) side(t *testing.T, opts ...Option) *side {
	t.Helper()
	c := testutil.NewDiskCache(t)
	b := artifact.NewBuilder(c)
	opts = append([]Option{WithProgress(h.record)}, opts...)
	return &side{cache: c, builder: b, engine: New(c, b, h.client, opts...)}
}

func (h *harness) record(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

// states returns the state transitions recorded for a session.
func (h *harness) states(sessionID string) []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []State
	for _, ev := range h.events {
		if ev.SessionID == sessionID && ev.Kind == EventState {
			out = append(out, ev.State)
		}
	}
	return out
}
