package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedItem is one item in a seed character's stash. X/Y of -1 means the item
// starts unplaced (owned but not in the grid).
type SeedItem struct {
	DefID      string  `yaml:"def_id"`
	Stack      int     `yaml:"stack"`
	Durability float64 `yaml:"durability"`
	X          int     `yaml:"x"`
	Y          int     `yaml:"y"`
	Rotation   int     `yaml:"rotation"`
	Insured    bool    `yaml:"insured"`
	QuestBound bool    `yaml:"quest_bound"`
}

// SeedCharacter describes one character the backend seeds at boot. The
// backend has no durable store; seed files are the entire initial state.
type SeedCharacter struct {
	ID          string     `yaml:"id"`
	AccountID   string     `yaml:"account_id"`
	Name        string     `yaml:"name"`
	XP          int        `yaml:"xp"`
	Gold        int        `yaml:"gold"`
	StashWidth  int        `yaml:"stash_width"`
	StashHeight int        `yaml:"stash_height"`
	Items       []SeedItem `yaml:"items"`
}

type characterSeedFile struct {
	Characters []*SeedCharacter `yaml:"characters"`
}

// LoadCharacterSeed loads seed characters from a YAML file and validates
// every item reference against the item table.
func LoadCharacterSeed(path string, items *ItemTable) ([]*SeedCharacter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character_seed: %w", err)
	}
	var f characterSeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse character_seed: %w", err)
	}

	for _, c := range f.Characters {
		if c.ID == "" {
			return nil, fmt.Errorf("character_seed: character with empty id")
		}
		if c.StashWidth < 1 || c.StashHeight < 1 {
			return nil, fmt.Errorf("character_seed: %s has invalid stash size %dx%d", c.ID, c.StashWidth, c.StashHeight)
		}
		for i := range c.Items {
			it := &c.Items[i]
			if items.Get(it.DefID) == nil {
				return nil, fmt.Errorf("character_seed: %s references unknown item %q", c.ID, it.DefID)
			}
			if it.Stack < 1 {
				it.Stack = 1
			}
			if it.Durability <= 0 || it.Durability > 1 {
				it.Durability = 1
			}
		}
	}
	return f.Characters, nil
}
