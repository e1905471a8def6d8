package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/appoci"
)

// appFlags describes an application on the command line.
type appFlags struct {
	name       string
	version    string
	root       string
	components []string
	assets     []string
	triggers   []string
	databases  []string
	kvStores   []string
}

func (f *appFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "application name")
	fl.StringVar(&f.version, "version", "", "application version (semver)")
	fl.StringVar(&f.root, "root", ".", "directory relative paths are resolved against")
	fl.StringArrayVarP(&f.components, "component", "c", nil, "component as ID=PATH")
	fl.StringArrayVarP(&f.assets, "asset", "a", nil, "asset as ID=SRC:DEST")
	fl.StringArrayVar(&f.triggers, "trigger", nil, "trigger as TYPE:ID[:KEY=VALUE,...]")
	fl.StringSliceVar(&f.databases, "database", nil, "database labels")
	fl.StringSliceVar(&f.kvStores, "kv", nil, "key-value store labels")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("component")
}

// application assembles and validates the described application.
func (f *appFlags) application() (*appoci.Application, error) {
	app := &appoci.Application{
		Name:           f.name,
		Version:        f.version,
		Root:           f.root,
		Databases:      f.databases,
		KeyValueStores: f.kvStores,
	}
	index := make(map[string]int, len(f.components))
	for _, spec := range f.components {
		id, path, ok := strings.Cut(spec, "=")
		if !ok || id == "" || path == "" {
			return nil, fmt.Errorf("%w: component %q is not ID=PATH", errUsage, spec)
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: component %q given twice", errUsage, id)
		}
		index[id] = len(app.Components)
		app.Components = append(app.Components, appoci.Component{
			ID:     id,
			Source: appoci.FileComponent{Path: path},
		})
	}
	for _, spec := range f.assets {
		id, rest, ok := strings.Cut(spec, "=")
		src, dest, ok2 := strings.Cut(rest, ":")
		if !ok || !ok2 || src == "" || dest == "" {
			return nil, fmt.Errorf("%w: asset %q is not ID=SRC:DEST", errUsage, spec)
		}
		i, known := index[id]
		if !known {
			return nil, fmt.Errorf("%w: asset %q names unknown component %q", errUsage, spec, id)
		}
		app.Components[i].Assets = append(app.Components[i].Assets, appoci.FileAsset{Path: src, Destination: dest})
	}
	for _, spec := range f.triggers {
		t, err := parseTrigger(spec)
		if err != nil {
			return nil, err
		}
		app.Triggers = append(app.Triggers, t)
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}
	return app, nil
}

func parseTrigger(spec string) (appoci.Trigger, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return appoci.Trigger{}, fmt.Errorf("%w: trigger %q is not TYPE:ID[:KEY=VALUE,...]", errUsage, spec)
	}
	t := appoci.Trigger{Type: parts[0], Component: parts[1]}
	if len(parts) == 3 && parts[2] != "" {
		t.Config = make(map[string]string)
		for _, kv := range strings.Split(parts[2], ",") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return appoci.Trigger{}, fmt.Errorf("%w: trigger setting %q is not KEY=VALUE", errUsage, kv)
			}
			t.Config[k] = v
		}
	}
	return t, nil
}
