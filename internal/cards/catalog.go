package cards

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// CardType is the broad category of a card.
type CardType string

const (
	TypeMonster CardType = "monster"
	TypeSpell   CardType = "spell"
	TypeTrap    CardType = "trap"
)

// Definition is the printed card: immutable stats plus the structured
// ability representation the effect parser understands. The Ability and
// OnDestroy fields are kept as raw maps; parsing is the engine's job so
// that one malformed card cannot poison catalog loading.
type Definition struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Type         CardType       `yaml:"type"`
	ATK          int            `yaml:"atk"`
	DEF          int            `yaml:"def"`
	Level        int            `yaml:"level"`
	SpellSpeed   int            `yaml:"spell_speed"`
	Untargetable bool           `yaml:"untargetable"`
	Ability      map[string]any `yaml:"ability"`
	OnDestroy    map[string]any `yaml:"on_destroy"`
}

// EffectiveSpellSpeed returns the spell speed used for chain legality.
// Cards printed without one default to speed 1.
func (d Definition) EffectiveSpellSpeed() int {
	if d.SpellSpeed < 1 {
		return 1
	}
	if d.SpellSpeed > 3 {
		return 3
	}
	return d.SpellSpeed
}

// Catalog is an id-keyed card definition lookup.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]Definition)}
}

// Get returns the definition for a card id.
func (c *Catalog) Get(id string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[id]
	return def, ok
}

// Put registers a definition, replacing any existing one with the same id.
func (c *Catalog) Put(def Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[def.ID] = def
}

// All returns a copy of every registered definition.
func (c *Catalog) All() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]Definition, 0, len(c.defs))
	for _, def := range c.defs {
		defs = append(defs, def)
	}
	return defs
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}

type catalogFile struct {
	Cards []Definition `yaml:"cards"`
}

// LoadFile reads card definitions from a YAML catalog file and merges
// them into the catalog. Definitions without an id are rejected.
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog: %w", err)
	}
	return c.LoadBytes(data)
}

// LoadBytes parses YAML catalog content and merges it into the catalog.
func (c *Catalog) LoadBytes(data []byte) (int, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	loaded := 0
	for _, def := range file.Cards {
		if def.ID == "" {
			return loaded, fmt.Errorf("catalog entry %q missing id", def.Name)
		}
		c.defs[def.ID] = def
		loaded++
	}
	return loaded, nil
}
