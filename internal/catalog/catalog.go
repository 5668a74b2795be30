// Package catalog loads the static list of modes, their capacities and map
// pools, and the pool of game servers.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DEFAULT []byte

var ErrUnknownMode = errors.New("unknown mode")

type Mode struct {
	Name     string   `yaml:"name" json:"name"`
	Capacity int      `yaml:"capacity" json:"capacity"`
	Maps     []string `yaml:"maps" json:"maps"`
}

type Catalog struct {
	Servers []string `yaml:"servers" json:"servers"`
	Modes   []Mode   `yaml:"modes" json:"modes"`
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(DEFAULT)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read catalog %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s is not valid: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Modes) == 0 {
		return fmt.Errorf("no modes defined")
	}

	seen := map[string]bool{}
	for _, m := range c.Modes {
		switch {
		case m.Name == "":
			return fmt.Errorf("mode without a name")
		case seen[m.Name]:
			return fmt.Errorf("mode %s defined twice", m.Name)
		case m.Capacity < 1:
			return fmt.Errorf("mode %s: capacity must be at least 1", m.Name)
		case len(m.Maps) == 0:
			return fmt.Errorf("mode %s: map pool is empty", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

func (c *Catalog) Mode(name string) (Mode, error) {
	for _, m := range c.Modes {
		if m.Name == name {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("%w: %s", ErrUnknownMode, name)
}

// Maps returns the ordered map pool of a mode, nil if the mode is unknown.
func (c *Catalog) Maps(mode string) []string {
	m, err := c.Mode(mode)
	if err != nil {
		return nil
	}
	return slices.Clone(m.Maps)
}

func (c *Catalog) ModeNames() []string {
	names := make([]string, 0, len(c.Modes))
	for _, m := range c.Modes {
		names = append(names, m.Name)
	}
	return names
}
