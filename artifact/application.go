package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/meigma/appoci/internal/pathutil"
)

// Application describes a multi-component application to package.
//
// It is produced by a manifest loader and handed to Builder.Build. The
// builder never parses manifest syntax; it only validates the structure.
type Application struct {
	// Name is the application name.
	Name string

	// Version is a semantic version string.
	Version string

	// Root is the base directory for relative file sources. Empty means
	// the working directory.
	Root string

	// Components are packaged in declaration order.
	Components []Component

	// Triggers bind components to events.
	Triggers []Trigger

	// Environment is application-wide configuration.
	Environment map[string]string

	// Databases are the labels of databases the application uses.
	Databases []string

	// KeyValueStores are the labels of key-value stores the application uses.
	KeyValueStores []string
}

// Component is one executable unit of an application.
type Component struct {
	// ID identifies the component within the application.
	ID string

	// Source supplies the component binary.
	Source ComponentSource

	// Destination is the materialization path of the binary. Defaults to
	// the base name of a FileComponent or the name of an InlineComponent.
	Destination string

	// Assets are static files served by or mounted into the component.
	Assets []AssetSource

	// Environment is component-scoped configuration.
	Environment map[string]string
}

// ComponentSource supplies the bytes of a component binary.
//
// The set of implementations is closed: FileComponent and InlineComponent.
type ComponentSource interface {
	isComponentSource()
}

// FileComponent reads a component binary from the filesystem.
type FileComponent struct {
	Path string
}

// InlineComponent carries a component binary in memory.
type InlineComponent struct {
	Name string
	Data []byte
}

func (FileComponent) isComponentSource()   {}
func (InlineComponent) isComponentSource() {}

// AssetSource supplies one or more static files.
//
// The set of implementations is closed: FileAsset and InlineAsset.
type AssetSource interface {
	isAssetSource()
	destination() string
}

// FileAsset copies a file, or every regular file below a directory, to
// Destination.
type FileAsset struct {
	Path        string
	Destination string
}

// InlineAsset places Data at Destination.
type InlineAsset struct {
	Destination string
	Data        []byte
}

func (FileAsset) isAssetSource()        {}
func (a FileAsset) destination() string { return a.Destination }

func (InlineAsset) isAssetSource()        {}
func (a InlineAsset) destination() string { return a.Destination }

// Trigger binds a component to an event source.
type Trigger struct {
	// Type is the trigger kind, for example "http" or "redis".
	Type string `json:"type"`

	// Component is the ID of the component handling the trigger.
	Component string `json:"component"`

	// Config holds trigger settings such as a route.
	Config map[string]string `json:"config,omitempty"`
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks the structure of the application.
//
// It is called once by Builder.Build; the builder trusts its input after
// this point. All failures wrap ErrInvalidApplication.
func (a *Application) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidApplication)
	}
	if a.Version != "" {
		if _, err := semver.NewVersion(a.Version); err != nil {
			return fmt.Errorf("%w: version %q: %v", ErrInvalidApplication, a.Version, err)
		}
	}
	if len(a.Components) == 0 {
		return fmt.Errorf("%w: no components", ErrInvalidApplication)
	}

	ids := make(map[string]struct{}, len(a.Components))
	paths := make(map[string]string)
	claim := func(p, owner string) error {
		cleaned, err := pathutil.Clean(p)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidApplication, owner, err)
		}
		if prev, ok := paths[cleaned]; ok {
			return fmt.Errorf("%w: %s: %w: %q already used by %s", ErrInvalidApplication, owner, ErrPathConflict, cleaned, prev)
		}
		paths[cleaned] = owner
		return nil
	}

	for i := range a.Components {
		c := &a.Components[i]
		if !idPattern.MatchString(c.ID) {
			return fmt.Errorf("%w: component %d: invalid id %q", ErrInvalidApplication, i, c.ID)
		}
		if _, dup := ids[c.ID]; dup {
			return fmt.Errorf("%w: duplicate component id %q", ErrInvalidApplication, c.ID)
		}
		ids[c.ID] = struct{}{}

		owner := "component " + c.ID
		switch src := c.Source.(type) {
		case FileComponent:
			if src.Path == "" {
				return fmt.Errorf("%w: %s: source path is empty", ErrInvalidApplication, owner)
			}
		case InlineComponent:
			if src.Name == "" && c.Destination == "" {
				return fmt.Errorf("%w: %s: inline source needs a name or destination", ErrInvalidApplication, owner)
			}
		case nil:
			return fmt.Errorf("%w: %s: no source", ErrInvalidApplication, owner)
		default:
			return fmt.Errorf("%w: %s: unsupported source %T", ErrInvalidApplication, owner, src)
		}
		if err := claim(c.binaryPath(), owner); err != nil {
			return err
		}

		for j, asset := range c.Assets {
			assetOwner := fmt.Sprintf("%s asset %d", owner, j)
			switch src := asset.(type) {
			case FileAsset:
				if src.Path == "" {
					return fmt.Errorf("%w: %s: source path is empty", ErrInvalidApplication, assetOwner)
				}
			case InlineAsset:
			case nil:
				return fmt.Errorf("%w: %s: no source", ErrInvalidApplication, assetOwner)
			default:
				return fmt.Errorf("%w: %s: unsupported source %T", ErrInvalidApplication, assetOwner, src)
			}
			// Directory assets are expanded during Build; their files are
			// checked for conflicts there.
			if err := claim(asset.destination(), assetOwner); err != nil {
				return err
			}
		}
	}

	for i, tr := range a.Triggers {
		if tr.Type == "" {
			return fmt.Errorf("%w: trigger %d: type is empty", ErrInvalidApplication, i)
		}
		if _, ok := ids[tr.Component]; !ok {
			return fmt.Errorf("%w: trigger %d: unknown component %q", ErrInvalidApplication, i, tr.Component)
		}
	}

	if err := validateLabels("database", a.Databases); err != nil {
		return err
	}
	return validateLabels("key-value store", a.KeyValueStores)
}

func validateLabels(kind string, labels []string) error {
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if !idPattern.MatchString(l) {
			return fmt.Errorf("%w: invalid %s label %q", ErrInvalidApplication, kind, l)
		}
		if _, dup := seen[l]; dup {
			return fmt.Errorf("%w: duplicate %s label %q", ErrInvalidApplication, kind, l)
		}
		seen[l] = struct{}{}
	}
	return nil
}

// binaryPath returns the materialization path of the component binary.
func (c *Component) binaryPath() string {
	if c.Destination != "" {
		return c.Destination
	}
	switch src := c.Source.(type) {
	case FileComponent:
		return filepath.Base(src.Path)
	case InlineComponent:
		return src.Name
	}
	return ""
}

// resolve returns p joined to root when p is relative.
func resolve(root, p string) string {
	if root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// DefaultTag derives an OCI tag from a semantic version. Build metadata
// separators are replaced because OCI tags do not allow '+'.
func DefaultTag(version string) (string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("%w: version %q: %v", ErrInvalidApplication, version, err)
	}
	return strings.ReplaceAll(v.String(), "+", "_"), nil
}
