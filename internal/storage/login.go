package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InventoryRow is one stack of items
type InventoryRow struct {
	Item     string
	Quantity int
}

// CollectableRow is one owned collectable
type CollectableRow struct {
	Type string
	Item string
}

// LoginRecord is everything the login path reads for an account, raw from
// the tables. Cross-checks against reference data happen in the caller.
type LoginRecord struct {
	Account      Account
	Stats        Stats
	Location     *Location
	Equipment    map[string]string
	Inventory    []InventoryRow
	Collectables []CollectableRow
	Spells       []string
	Permissions  []string
	Friends      []string
	ClientConfig string
}

// LoadLoginPayload reads the full login record of an account
func (s *Store) LoadLoginPayload(ctx context.Context, accountID int64) (*LoginRecord, error) {
	acc, err := s.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	rec := &LoginRecord{Account: *acc, Equipment: make(map[string]string)}

	st := &rec.Stats
	err = s.db.QueryRowContext(ctx, `
		SELECT health, max_health, stamina, max_stamina, xp, max_xp, level, currency
		FROM stats WHERE account_id = ?`, accountID).
		Scan(&st.Health, &st.MaxHealth, &st.Stamina, &st.MaxStamina, &st.XP, &st.MaxXP, &st.Level, &st.Currency)
	if err != nil {
		return nil, fmt.Errorf("loading stats: %w", err)
	}

	var loc Location
	err = s.db.QueryRowContext(ctx,
		"SELECT map, x, y, direction FROM locations WHERE account_id = ?", accountID).
		Scan(&loc.Map, &loc.X, &loc.Y, &loc.Direction)
	switch {
	case err == nil:
		rec.Location = &loc
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("loading location: %w", err)
	}

	if err := s.each(ctx, "SELECT slot, item FROM equipment WHERE account_id = ?", func(rows *sql.Rows) error {
		var slot, item string
		if err := rows.Scan(&slot, &item); err != nil {
			return err
		}
		rec.Equipment[slot] = item
		return nil
	}, accountID); err != nil {
		return nil, fmt.Errorf("loading equipment: %w", err)
	}

	if err := s.each(ctx, "SELECT item, quantity FROM inventory WHERE account_id = ? ORDER BY item", func(rows *sql.Rows) error {
		var r InventoryRow
		if err := rows.Scan(&r.Item, &r.Quantity); err != nil {
			return err
		}
		rec.Inventory = append(rec.Inventory, r)
		return nil
	}, accountID); err != nil {
		return nil, fmt.Errorf("loading inventory: %w", err)
	}

	if err := s.each(ctx, "SELECT type, item FROM collectables WHERE account_id = ? ORDER BY type, item", func(rows *sql.Rows) error {
		var r CollectableRow
		if err := rows.Scan(&r.Type, &r.Item); err != nil {
			return err
		}
		rec.Collectables = append(rec.Collectables, r)
		return nil
	}, accountID); err != nil {
		return nil, fmt.Errorf("loading collectables: %w", err)
	}

	if rec.Spells, err = s.strings(ctx,
		"SELECT spell FROM learned_spells WHERE account_id = ? ORDER BY spell", accountID); err != nil {
		return nil, fmt.Errorf("loading spells: %w", err)
	}
	if rec.Permissions, err = s.strings(ctx,
		"SELECT permission FROM permissions WHERE account_id = ? ORDER BY permission", accountID); err != nil {
		return nil, fmt.Errorf("loading permissions: %w", err)
	}
	if rec.Friends, err = s.Friends(ctx, accountID); err != nil {
		return nil, fmt.Errorf("loading friends: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT config FROM client_config WHERE account_id = ?", accountID).Scan(&rec.ClientConfig)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading client config: %w", err)
	}
	return rec, nil
}

func (s *Store) each(ctx context.Context, query string, fn func(*sql.Rows) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
