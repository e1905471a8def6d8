package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validApplication() *Application {
	return &Application{
		Name:    "hello",
		Version: "1.2.3",
		Components: []Component{
			{
				ID:     "web",
				Source: InlineComponent{Name: "web.wasm", Data: []byte("web")},
				Assets: []AssetSource{InlineAsset{Destination: "static/index.html", Data: []byte("<h1>hi</h1>")}},
			},
			{ID: "api", Source: FileComponent{Path: "target/api.wasm"}},
		},
		Triggers:       []Trigger{{Type: "http", Component: "web", Config: map[string]string{"route": "/..."}}},
		Databases:      []string{"default"},
		KeyValueStores: []string{"default"},
	}
}

func TestApplicationValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(a *Application)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Application) {}},
		{name: "no version", mutate: func(a *Application) { a.Version = "" }},
		{name: "empty name", mutate: func(a *Application) { a.Name = "" }, wantErr: true},
		{name: "bad version", mutate: func(a *Application) { a.Version = "one.two" }, wantErr: true},
		{name: "no components", mutate: func(a *Application) { a.Components = nil }, wantErr: true},
		{name: "duplicate id", mutate: func(a *Application) { a.Components[1].ID = "web" }, wantErr: true},
		{name: "bad id", mutate: func(a *Application) { a.Components[0].ID = "-web" }, wantErr: true},
		{name: "nil source", mutate: func(a *Application) { a.Components[0].Source = nil }, wantErr: true},
		{name: "empty file path", mutate: func(a *Application) { a.Components[1].Source = FileComponent{} }, wantErr: true},
		{name: "unnamed inline", mutate: func(a *Application) {
			a.Components[0].Source = InlineComponent{Data: []byte("x")}
		}, wantErr: true},
		{name: "inline with destination", mutate: func(a *Application) {
			a.Components[0].Source = InlineComponent{Data: []byte("x")}
			a.Components[0].Destination = "bin/web.wasm"
		}},
		{name: "absolute destination", mutate: func(a *Application) { a.Components[0].Destination = "/etc/web.wasm" }, wantErr: true},
		{name: "escaping asset", mutate: func(a *Application) {
			a.Components[0].Assets = []AssetSource{InlineAsset{Destination: "../outside"}}
		}, wantErr: true},
		{name: "asset over binary", mutate: func(a *Application) {
			a.Components[1].Assets = []AssetSource{InlineAsset{Destination: "web.wasm"}}
		}, wantErr: true},
		{name: "nil asset", mutate: func(a *Application) { a.Components[1].Assets = []AssetSource{nil} }, wantErr: true},
		{name: "trigger without type", mutate: func(a *Application) { a.Triggers[0].Type = "" }, wantErr: true},
		{name: "trigger unknown component", mutate: func(a *Application) { a.Triggers[0].Component = "nope" }, wantErr: true},
		{name: "duplicate database", mutate: func(a *Application) { a.Databases = []string{"db", "db"} }, wantErr: true},
		{name: "bad kv label", mutate: func(a *Application) { a.KeyValueStores = []string{""} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			app := validApplication()
			tt.mutate(app)
			err := app.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidApplication)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestApplicationValidate_PathConflict(t *testing.T) {
	t.Parallel()

	app := validApplication()
	app.Components[1].Destination = "web.wasm"
	err := app.Validate()
	require.ErrorIs(t, err, ErrInvalidApplication)
	assert.ErrorIs(t, err, ErrPathConflict)
}

func TestDefaultTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		want    string
		wantErr bool
	}{
		{version: "1.2.3", want: "1.2.3"},
		{version: "v1.2.3", want: "1.2.3"},
		{version: "1.0.0-rc.1", want: "1.0.0-rc.1"},
		{version: "1.0.0+build.7", want: "1.0.0_build.7"},
		{version: "latest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			t.Parallel()
			got, err := DefaultTag(tt.version)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidApplication)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
