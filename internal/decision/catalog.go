package decision

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultStrategy = "multi_timeframe"

// Strategy 是一个策略标签对应的提示词片段。
type Strategy struct {
	Name        string `yaml:"-"`
	Description string `yaml:"description"`
	Guidance    string `yaml:"guidance"`
}

type catalogFile struct {
	Strategies map[string]Strategy `yaml:"strategies"`
}

// Catalog 按标签查找策略；未知标签回落到 multi_timeframe。
type Catalog struct {
	entries map[string]Strategy
}

var builtinStrategies = map[string]Strategy{
	DefaultStrategy: {
		Description: "Multi-timeframe confluence",
		Guidance: `1. Identify the macro trend on the higher timeframes.
2. Look for a precise entry pattern on the base timeframe.
3. Validate trend strength and volume.
Only trade when the timeframes agree. Place stop-loss and take-profit at logical support/resistance levels.`,
	},
}

// DefaultCatalog 只包含内置策略。
func DefaultCatalog() *Catalog {
	c := &Catalog{entries: make(map[string]Strategy, len(builtinStrategies))}
	for k, v := range builtinStrategies {
		v.Name = k
		c.entries[k] = v
	}
	return c
}

// LoadCatalog reads a YAML catalog and merges it over the builtin entries.
// A missing file yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	path = strings.TrimSpace(path)
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read strategy catalog failed: %w", err)
	}
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode strategy catalog %s: %w", path, err)
	}
	for name, s := range file.Strategies {
		key := normalizeLabel(name)
		if key == "" {
			continue
		}
		if strings.TrimSpace(s.Guidance) == "" {
			return nil, fmt.Errorf("strategy %s: guidance 不能为空", name)
		}
		s.Name = key
		c.entries[key] = s
	}
	return c, nil
}

func (c *Catalog) Lookup(label string) Strategy {
	if c == nil {
		c = DefaultCatalog()
	}
	if s, ok := c.entries[normalizeLabel(label)]; ok {
		return s
	}
	return c.entries[DefaultStrategy]
}

func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
