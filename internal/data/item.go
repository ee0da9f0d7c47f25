package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ItemDef is an immutable item definition. Instances reference a def by ID;
// per-instance state (stack, durability, flags) lives on the instance.
type ItemDef struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Category  string   `yaml:"category"` // weapon/armor/rig/bag/ammo/meds/valuable/…
	Tags      []string `yaml:"tags"`
	Width     int      `yaml:"width"`  // stash grid cells
	Height    int      `yaml:"height"` // stash grid cells
	MaxStack  int      `yaml:"max_stack"`
	BaseValue int      `yaml:"base_value"` // trader pricing baseline, in gold
}

// Stackable reports whether the definition allows stacks above 1.
func (d *ItemDef) Stackable() bool {
	return d.MaxStack > 1
}

// HasTag reports whether the definition carries the given tag.
func (d *ItemDef) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ItemTable holds all item definitions indexed by ID.
type ItemTable struct {
	defs map[string]*ItemDef
}

// Get returns a definition by ID, or nil if not found.
func (t *ItemTable) Get(id string) *ItemDef {
	return t.defs[id]
}

// Count returns the number of definitions loaded.
func (t *ItemTable) Count() int {
	return len(t.defs)
}

type itemListFile struct {
	Items []*ItemDef `yaml:"items"`
}

// NewItemTable builds a table from definitions already in memory (tests).
func NewItemTable(defs []*ItemDef) *ItemTable {
	t := &ItemTable{defs: make(map[string]*ItemDef, len(defs))}
	for _, d := range defs {
		normalizeDef(d)
		t.defs[d.ID] = d
	}
	return t
}

// LoadItemTable loads item definitions from a YAML file.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read item_list: %w", err)
	}
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse item_list: %w", err)
	}

	t := &ItemTable{defs: make(map[string]*ItemDef, len(f.Items))}
	for _, d := range f.Items {
		if d.ID == "" {
			return nil, fmt.Errorf("item_list: definition with empty id")
		}
		if _, dup := t.defs[d.ID]; dup {
			return nil, fmt.Errorf("item_list: duplicate id %q", d.ID)
		}
		normalizeDef(d)
		t.defs[d.ID] = d
	}
	return t, nil
}

func normalizeDef(d *ItemDef) {
	if d.Width < 1 {
		d.Width = 1
	}
	if d.Height < 1 {
		d.Height = 1
	}
	if d.MaxStack < 1 {
		d.MaxStack = 1
	}
}
