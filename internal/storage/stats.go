package storage

import (
	"context"
	"math"
)

// MaxLevel caps character progression
const MaxLevel = 100

// Stats are the persisted character stats
type Stats struct {
	Health     int `json:"health"`
	MaxHealth  int `json:"max_health"`
	Stamina    int `json:"stamina"`
	MaxStamina int `json:"max_stamina"`
	XP         int `json:"xp"`
	MaxXP      int `json:"max_xp"`
	Level      int `json:"level"`
	Currency   int `json:"currency"`
}

// Location is a persisted map position
type Location struct {
	Map       string  `json:"map"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
}

// XPForLevel returns the total XP required to reach a given level.
// Level 1 requires 0 XP, level 2 requires 100, etc.
// Formula: sum of 100 * i^1.5 for i in 1..level-1
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	total := 0.0
	for i := 1; i < level; i++ {
		total += 100.0 * math.Pow(float64(i), 1.5)
	}
	return int(total)
}

// XPToNextLevel returns XP needed from current level to reach the next level
func XPToNextLevel(level int) int {
	return XPForLevel(level+1) - XPForLevel(level)
}

// SaveStats writes the stats row of an account
func (s *Store) SaveStats(ctx context.Context, accountID int64, st Stats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stats (account_id, health, max_health, stamina, max_stamina, xp, max_xp, level, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			health = excluded.health,
			max_health = excluded.max_health,
			stamina = excluded.stamina,
			max_stamina = excluded.max_stamina,
			xp = excluded.xp,
			max_xp = excluded.max_xp,
			level = excluded.level,
			currency = excluded.currency`,
		accountID, st.Health, st.MaxHealth, st.Stamina, st.MaxStamina, st.XP, st.MaxXP, st.Level, st.Currency)
	return err
}

// SaveLocation writes the location row of an account
func (s *Store) SaveLocation(ctx context.Context, accountID int64, loc Location) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (account_id, map, x, y, direction) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			map = excluded.map, x = excluded.x, y = excluded.y, direction = excluded.direction`,
		accountID, loc.Map, loc.X, loc.Y, loc.Direction)
	return err
}

// AddItem adds quantity of an item to the inventory
func (s *Store) AddItem(ctx context.Context, accountID int64, item string, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (account_id, item, quantity) VALUES (?, ?, ?)
		ON CONFLICT(account_id, item) DO UPDATE SET quantity = quantity + excluded.quantity`,
		accountID, item, quantity)
	return err
}

// Equip puts an item in an equipment slot
func (s *Store) Equip(ctx context.Context, accountID int64, slot, item string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equipment (account_id, slot, item) VALUES (?, ?, ?)
		ON CONFLICT(account_id, slot) DO UPDATE SET item = excluded.item`,
		accountID, slot, item)
	return err
}

// AddCollectable records an owned collectable such as a mount
func (s *Store) AddCollectable(ctx context.Context, accountID int64, kind, item string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO collectables (account_id, type, item) VALUES (?, ?, ?)",
		accountID, kind, item)
	return err
}
