package artifact

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Config is the application-level metadata stored as the manifest config
// blob. It is encoded as JSON; struct fields keep a fixed order and map keys
// are sorted by encoding/json, so equal configs encode to equal bytes.
type Config struct {
	Name           string            `json:"name"`
	Version        string            `json:"version,omitempty"`
	Components     []ComponentConfig `json:"components"`
	Triggers       []Trigger         `json:"triggers,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	Databases      []string          `json:"databases,omitempty"`
	KeyValueStores []string          `json:"keyValueStores,omitempty"`
}

// ComponentConfig describes one component in the config blob.
type ComponentConfig struct {
	ID          string            `json:"id"`
	Path        string            `json:"path"`
	Assets      []string          `json:"assets,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

// Component returns the config of the component with the given ID.
func (c Config) Component(id string) (ComponentConfig, bool) {
	for _, cc := range c.Components {
		if cc.ID == id {
			return cc, true
		}
	}
	return ComponentConfig{}, false
}

func (c *Config) encode() ([]byte, error) {
	return json.Marshal(c)
}

func decodeConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode config: %v", ErrInvalidManifest, err)
	}
	if cfg.Name == "" {
		return Config{}, fmt.Errorf("%w: config has no name", ErrInvalidManifest)
	}
	return cfg, nil
}

// newConfig builds the config for a validated application from the
// components resolved during Build.
func newConfig(app *Application, components []ComponentConfig) Config {
	cfg := Config{
		Name:           app.Name,
		Version:        app.Version,
		Components:     components,
		Triggers:       app.Triggers,
		Environment:    app.Environment,
		Databases:      slices.Clone(app.Databases),
		KeyValueStores: slices.Clone(app.KeyValueStores),
	}
	slices.Sort(cfg.Databases)
	slices.Sort(cfg.KeyValueStores)
	return cfg
}
