package kv

import (
	"context"
	"errors"
	"fmt"
)

// Rarity levels for items
const (
	RarityCommon    = 0
	RarityRare      = 1
	RarityEpic      = 2
	RarityLegendary = 3
)

// Spell kinds
const (
	SpellDamage = "damage"
	SpellHeal   = "heal"
)

// Item is a static item definition
type Item struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // equipment slot name or "consumable", "collectable"
	Rarity      int    `json:"rarity"`
	Stackable   bool   `json:"stackable"`
	Description string `json:"description"`
}

// Spell is a static spell definition
type Spell struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Damage   int     `json:"damage"`
	Spread   float64 `json:"spread"` // +/- fraction applied to Damage
	Mana     int     `json:"mana"`
	Range    float64 `json:"range"`     // pixels
	CastTime int     `json:"cast_time"` // milliseconds
	Cooldown int     `json:"cooldown"`  // milliseconds
}

// Mount is a static mount definition
type Mount struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog is the reference data loaded from the store
type Catalog struct {
	Items  map[string]Item  `json:"items" msgpack:"items"`
	Spells map[string]Spell `json:"spells" msgpack:"spells"`
	Mounts map[string]Mount `json:"mounts" msgpack:"mounts"`
}

// DefaultItems is the built-in item list
var DefaultItems = []Item{
	{Name: "wooden_sword", Type: "weapon", Rarity: RarityCommon, Description: "A practice blade"},
	{Name: "iron_sword", Type: "weapon", Rarity: RarityRare, Description: "Standard issue"},
	{Name: "leather_cap", Type: "helmet", Rarity: RarityCommon, Description: "Barely a helmet"},
	{Name: "iron_helm", Type: "helmet", Rarity: RarityRare, Description: "Dented but sturdy"},
	{Name: "leather_vest", Type: "body", Rarity: RarityCommon, Description: "Smells of the stable"},
	{Name: "mage_robe", Type: "body", Rarity: RarityEpic, Description: "Woven with runes"},
	{Name: "health_potion", Type: "consumable", Rarity: RarityCommon, Stackable: true, Description: "Restores health"},
	{Name: "stamina_potion", Type: "consumable", Rarity: RarityCommon, Stackable: true, Description: "Restores stamina"},
	{Name: "horse", Type: "collectable", Rarity: RarityRare, Description: "A loyal horse"},
	{Name: "wolf", Type: "collectable", Rarity: RarityEpic, Description: "A tamed wolf"},
	{Name: "dragon", Type: "collectable", Rarity: RarityLegendary, Description: "It bites"},
}

// DefaultSpells is the built-in spell list
var DefaultSpells = []Spell{
	{Name: "frost_bolt", Type: SpellDamage, Damage: 20, Spread: 0.2, Mana: 10, Range: 300, CastTime: 500, Cooldown: 1500},
	{Name: "fireball", Type: SpellDamage, Damage: 35, Spread: 0.25, Mana: 25, Range: 350, CastTime: 1000, Cooldown: 4000},
	{Name: "arcane_spark", Type: SpellDamage, Damage: 8, Spread: 0.1, Mana: 3, Range: 200, CastTime: 0, Cooldown: 500},
	{Name: "heal", Type: SpellHeal, Damage: 25, Spread: 0.2, Mana: 20, Range: 250, CastTime: 800, Cooldown: 3000},
}

// DefaultMounts is the built-in mount list
var DefaultMounts = []Mount{
	{Name: "horse", Description: "Steady and quick"},
	{Name: "wolf", Description: "Fast through forests"},
}

// Seed writes the built-in catalog for every namespace that is missing.
func Seed(ctx context.Context, s Store) error {
	items := make(map[string]Item, len(DefaultItems))
	for _, it := range DefaultItems {
		items[it.Name] = it
	}
	spells := make(map[string]Spell, len(DefaultSpells))
	for _, sp := range DefaultSpells {
		spells[sp.Name] = sp
	}
	mounts := make(map[string]Mount, len(DefaultMounts))
	for _, m := range DefaultMounts {
		mounts[m.Name] = m
	}

	seeds := []struct {
		key   string
		value any
	}{
		{KeyItems, items},
		{KeySpells, spells},
		{KeyMounts, mounts},
	}
	for _, sd := range seeds {
		_, err := s.Get(ctx, sd.key)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("checking %s: %w", sd.key, err)
		}
		if err := SetJSON(ctx, s, sd.key, sd.value); err != nil {
			return err
		}
	}
	return nil
}

// LoadCatalog reads items, spells and mounts from the store.
// Missing namespaces yield empty maps.
func LoadCatalog(ctx context.Context, s Store) (*Catalog, error) {
	c := &Catalog{
		Items:  make(map[string]Item),
		Spells: make(map[string]Spell),
		Mounts: make(map[string]Mount),
	}
	targets := []struct {
		key string
		v   any
	}{
		{KeyItems, &c.Items},
		{KeySpells, &c.Spells},
		{KeyMounts, &c.Mounts},
	}
	for _, t := range targets {
		if err := GetJSON(ctx, s, t.key, t.v); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return c, nil
}

// GetSpell looks up one spell definition.
func GetSpell(ctx context.Context, s Store, name string) (Spell, bool, error) {
	var spells map[string]Spell
	if err := GetJSON(ctx, s, KeySpells, &spells); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Spell{}, false, nil
		}
		return Spell{}, false, err
	}
	sp, ok := spells[name]
	return sp, ok, nil
}
