package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TraderOffer is one purchasable line in a trader's catalog.
type TraderOffer struct {
	ID       string  `yaml:"id"`
	DefID    string  `yaml:"def_id"`
	Price    int     `yaml:"price"`
	Stock    int     `yaml:"stock"` // -1 = infinite, else restock default
	MinLevel int     `yaml:"min_level"`
	MinRep   float64 `yaml:"min_rep"`
}

// TraderDef is a static NPC trader definition.
type TraderDef struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	BuybackRate float64        `yaml:"buyback_rate"` // base fraction of value paid when buying from players
	Categories  []string       `yaml:"categories"`   // accepted sell categories; empty = all
	Offers      []*TraderOffer `yaml:"offers"`
}

// Accepts reports whether the trader buys items of the given category.
func (d *TraderDef) Accepts(category string) bool {
	if len(d.Categories) == 0 {
		return true
	}
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// TraderTable holds all trader definitions indexed by ID.
type TraderTable struct {
	traders map[string]*TraderDef
	order   []string // stable listing order
}

// Get returns a trader by ID, or nil if not found.
func (t *TraderTable) Get(id string) *TraderDef {
	return t.traders[id]
}

// All returns traders in file order.
func (t *TraderTable) All() []*TraderDef {
	out := make([]*TraderDef, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.traders[id])
	}
	return out
}

// Count returns the number of traders loaded.
func (t *TraderTable) Count() int {
	return len(t.traders)
}

type traderListFile struct {
	Traders []*TraderDef `yaml:"traders"`
}

// NewTraderTable builds a table from definitions already in memory (tests).
func NewTraderTable(defs []*TraderDef) *TraderTable {
	t := &TraderTable{traders: make(map[string]*TraderDef, len(defs))}
	for _, d := range defs {
		t.traders[d.ID] = d
		t.order = append(t.order, d.ID)
	}
	return t
}

// LoadTraderTable loads trader catalogs from a YAML file.
func LoadTraderTable(path string, items *ItemTable) (*TraderTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trader_list: %w", err)
	}
	var f traderListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse trader_list: %w", err)
	}

	t := &TraderTable{traders: make(map[string]*TraderDef, len(f.Traders))}
	for _, d := range f.Traders {
		if d.ID == "" {
			return nil, fmt.Errorf("trader_list: trader with empty id")
		}
		for _, o := range d.Offers {
			if items.Get(o.DefID) == nil {
				return nil, fmt.Errorf("trader_list: trader %s offer %s references unknown item %q", d.ID, o.ID, o.DefID)
			}
			if o.Price < 1 {
				o.Price = 1
			}
		}
		t.traders[d.ID] = d
		t.order = append(t.order, d.ID)
	}
	return t, nil
}
