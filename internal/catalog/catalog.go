// Package catalog holds model metadata: pricing per million tokens and
// context windows. The embedded default covers the default tier tables; a
// deployment can point the config at an override file in the same TOML shape.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var defaultCatalogTOML []byte

// Model is one catalog entry.
type Model struct {
	ID            string   `toml:"id" json:"id"`
	Name          string   `toml:"name" json:"name"`
	ContextWindow int      `toml:"context-window" json:"contextWindow"`
	CostInput     float64  `toml:"cost-input" json:"costInput"`   // USD per Mtok
	CostOutput    float64  `toml:"cost-output" json:"costOutput"` // USD per Mtok
	Capabilities  []string `toml:"capabilities" json:"capabilities,omitempty"`
}

type catalogFile struct {
	Models map[string]Model `toml:"models"`
}

// Catalog resolves model ids to metadata.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]Model // keyed by Model.ID
}

// Default parses the embedded catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalogTOML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog.toml invalid: %v", err))
	}
	return c
}

// Load reads a catalog file. Entries merge over the embedded defaults, so an
// override file only needs the models it changes or adds.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, err
	}
	c := Default()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, m := range override.models {
		c.models[id] = m
	}
	return c, nil
}

func parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	models := make(map[string]Model, len(f.Models))
	for key, m := range f.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog: models.%s: id required", key)
		}
		models[m.ID] = m
	}
	return &Catalog{models: models}, nil
}

// Get returns a model's metadata.
func (c *Catalog) Get(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// Models returns all entries.
func (c *Catalog) Models() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	return out
}

// CostPerMillion returns a blended per-Mtok price assuming a 3:1 input:output
// token split. Unknown models price at zero, which makes them free in savings
// accounting rather than failing the request path.
func (c *Catalog) CostPerMillion(model string) float64 {
	m, ok := c.Get(model)
	if !ok {
		return 0
	}
	return 0.75*m.CostInput + 0.25*m.CostOutput
}

// ContextWindow returns the model's context window, or 0 when unknown.
func (c *Catalog) ContextWindow(model string) int {
	m, _ := c.Get(model)
	return m.ContextWindow
}
