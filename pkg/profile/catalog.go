package profile

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// rosterFile is the on-disk shape of one catalog file.
type rosterFile struct {
	Version     string    `yaml:"version,omitempty"`
	Specialists []Profile `yaml:"specialists"`
}

// Catalog is the read-only specialist store. It merges the embedded default
// roster with every YAML file found in an optional profiles directory; a
// profile id seen again replaces the earlier definition but keeps its original
// position, so List order stays stable across overrides.
type Catalog struct {
	profiles map[string]Profile
	order    []string
}

var _ Lookup = (*Catalog)(nil)

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{profiles: make(map[string]Profile)}
}

// DefaultCatalog loads only the embedded default roster.
func DefaultCatalog() (*Catalog, error) {
	c := NewCatalog()
	if err := c.loadFS(defaultsFS, "defaults", "embedded"); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCatalog loads the embedded defaults and overlays every *.yaml / *.yml
// file under dir. An empty dir means defaults only; a missing dir is not an
// error.
func LoadCatalog(dir string) (*Catalog, error) {
	c, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return c, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Debug("Profiles directory does not exist, using defaults", "dir", dir)
		return c, nil
	}
	if err := c.loadFS(os.DirFS(dir), ".", dir); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) loadFS(fsys fs.FS, root, source string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("read profiles directory %s: %w", source, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read profile file %s: %w", entry.Name(), err)
		}
		var file rosterFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parse profile file %s: %w", entry.Name(), err)
		}
		for i := range file.Specialists {
			p := file.Specialists[i]
			if err := p.Validate(); err != nil {
				return fmt.Errorf("profile file %s: %w", entry.Name(), err)
			}
			c.upsert(p)
		}
		slog.Debug("Loaded profile file", "file", entry.Name(), "source", source, "specialists", len(file.Specialists))
	}
	return nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func (c *Catalog) upsert(p Profile) {
	if _, exists := c.profiles[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.profiles[p.ID] = p
}

// Find implements Lookup.
func (c *Catalog) Find(id string) (Profile, bool) {
	p, ok := c.profiles[id]
	return p, ok
}

// List returns all profiles in load order.
func (c *Catalog) List() []Profile {
	out := make([]Profile, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.profiles[id])
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.order)
}

// Roster resolves a list of specialist ids into profiles, preserving the
// requested order. An empty ids list returns the whole catalog in load order.
func (c *Catalog) Roster(ids []string) ([]Profile, error) {
	if len(ids) == 0 {
		return c.List(), nil
	}
	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		p, ok := c.Find(id)
		if !ok {
			return nil, fmt.Errorf("unknown specialist id %q", id)
		}
		out = append(out, p)
	}
	return out, nil
}
