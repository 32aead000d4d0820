// Package catalog loads achievement definitions from YAML.
package catalog

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

//go:embed achievements.yaml
var defaultFS embed.FS

const defaultFile = "achievements.yaml"

type yamlCatalog struct {
	Version      int               `yaml:"version"`
	Achievements []yamlAchievement `yaml:"achievements"`
}

type yamlAchievement struct {
	Key         string     `yaml:"key"`
	Type        string     `yaml:"type"`
	Metric      string     `yaml:"metric"`
	ContextKey  string     `yaml:"context_key"`
	DeltaKey    string     `yaml:"delta_key"`
	Target      yamlTarget `yaml:"target"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Icon        string     `yaml:"icon"`
}

// yamlTarget accepts a number, a boolean or a list of keys.
type yamlTarget struct {
	achievement.Target
}

func (t *yamlTarget) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			if b {
				t.Target = achievement.FlagTarget()
			}
			return nil
		case "!!int", "!!float":
			var v float64
			if err := node.Decode(&v); err != nil {
				return err
			}
			t.Target = achievement.NumberTarget(v)
			return nil
		case "!!null":
			return nil
		}
		return fmt.Errorf("line %d: target %q is neither a number nor a boolean", node.Line, node.Value)
	case yaml.SequenceNode:
		var keys []string
		if err := node.Decode(&keys); err != nil {
			return fmt.Errorf("line %d: target keys: %w", node.Line, err)
		}
		t.Target = achievement.KeysTarget(keys...)
		return nil
	}
	return fmt.Errorf("line %d: unsupported target shape", node.Line)
}

// Parse decodes a catalog document. Order in the file is catalog order.
func Parse(data []byte) (*achievement.Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: document is empty")
	}

	var doc yamlCatalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	defs := make([]achievement.Definition, 0, len(doc.Achievements))
	for _, a := range doc.Achievements {
		defs = append(defs, achievement.Definition{
			Key:        a.Key,
			Type:       achievement.EvaluationType(a.Type),
			Metric:     achievement.MetricName(a.Metric),
			ContextKey: a.ContextKey,
			DeltaKey:   a.DeltaKey,
			Target:     a.Target.Target,
			Display: achievement.Display{
				Name:        a.Name,
				Description: a.Description,
				Icon:        a.Icon,
			},
		})
	}

	c, err := achievement.NewCatalog(defs...)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return c, nil
}

// Load reads a catalog from r.
func Load(r io.Reader) (*achievement.Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	return Parse(data)
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*achievement.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// LoadDefault returns the catalog shipped with the binary.
func LoadDefault() (*achievement.Catalog, error) {
	data, err := defaultFS.ReadFile(defaultFile)
	if err != nil {
		return nil, fmt.Errorf("catalog: embedded: %w", err)
	}
	return Parse(data)
}

// LoadPathOrDefault loads path when set, the embedded catalog otherwise.
func LoadPathOrDefault(path string) (*achievement.Catalog, error) {
	if path == "" {
		return LoadDefault()
	}
	return LoadFile(path)
}
