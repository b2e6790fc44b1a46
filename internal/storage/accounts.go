package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Roles
const (
	RolePlayer = "player"
	RoleAdmin  = "admin"
)

// Account is a row of the accounts table
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	Banned       bool
	Guest        bool
	SessionID    string
	CreatedAt    time.Time
}

// NewAccount describes an account to create together with its starting
// stats, location, spells and permissions.
type NewAccount struct {
	Username     string
	PasswordHash string
	Role         string
	Guest        bool
	Location     Location
	Spells       []string
	Permissions  []string
}

const accountColumns = "id, username, pass_hash, role, banned, guest, session_id, created_at"

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var sessionID sql.NullString
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Role, &a.Banned, &a.Guest, &sessionID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.SessionID = sessionID.String
	return &a, nil
}

// GetAccount returns an account by username (case-insensitive)
func (s *Store) GetAccount(ctx context.Context, username string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE username = ?", username))
}

// GetAccountByID returns an account by id
func (s *Store) GetAccountByID(ctx context.Context, id int64) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id))
}

// CreateAccount inserts an account and its starting rows in one transaction
func (s *Store) CreateAccount(ctx context.Context, na NewAccount) (int64, error) {
	if na.Role == "" {
		na.Role = RolePlayer
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO accounts (username, pass_hash, role, guest) VALUES (?, ?, ?, ?)",
		na.Username, na.PasswordHash, na.Role, boolInt(na.Guest))
	if err != nil {
		return 0, fmt.Errorf("inserting account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO stats (account_id, max_xp) VALUES (?, ?)", id, XPToNextLevel(1)); err != nil {
		return 0, fmt.Errorf("inserting stats: %w", err)
	}
	if na.Location.Map != "" {
		dir := na.Location.Direction
		if dir == "" {
			dir = "down"
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO locations (account_id, map, x, y, direction) VALUES (?, ?, ?, ?, ?)",
			id, na.Location.Map, na.Location.X, na.Location.Y, dir); err != nil {
			return 0, fmt.Errorf("inserting location: %w", err)
		}
	}
	for _, sp := range na.Spells {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO learned_spells (account_id, spell) VALUES (?, ?)", id, sp); err != nil {
			return 0, fmt.Errorf("inserting spell: %w", err)
		}
	}
	for _, p := range na.Permissions {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO permissions (account_id, permission) VALUES (?, ?)", id, p); err != nil {
			return 0, fmt.Errorf("inserting permission: %w", err)
		}
	}
	return id, tx.Commit()
}

// SetSessionID records the live session of an account
func (s *Store) SetSessionID(ctx context.Context, accountID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE accounts SET session_id = ? WHERE id = ?", sessionID, accountID)
	return err
}

// ClearSessionID clears the stored session id, but only if it still
// belongs to sessionID. A newer login keeps its own id.
func (s *Store) ClearSessionID(ctx context.Context, accountID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET session_id = NULL WHERE id = ? AND session_id = ?", accountID, sessionID)
	return err
}

// SetBanned bans or unbans an account by username
func (s *Store) SetBanned(ctx context.Context, username string, banned bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE accounts SET banned = ? WHERE username = ?", boolInt(banned), username)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) accountID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM accounts WHERE username = ?", username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// AddPermission grants a permission to an account
func (s *Store) AddPermission(ctx context.Context, username, permission string) error {
	id, err := s.accountID(ctx, username)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO permissions (account_id, permission) VALUES (?, ?)", id, permission)
	return err
}

// RemovePermission revokes a permission from an account
func (s *Store) RemovePermission(ctx context.Context, username, permission string) error {
	id, err := s.accountID(ctx, username)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"DELETE FROM permissions WHERE account_id = ? AND permission = ?", id, permission)
	return err
}

// Permissions lists the permissions held by an account
func (s *Store) Permissions(ctx context.Context, username string) ([]string, error) {
	id, err := s.accountID(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.strings(ctx, "SELECT permission FROM permissions WHERE account_id = ? ORDER BY permission", id)
}

// AddFriend adds friend to the account's friend list
func (s *Store) AddFriend(ctx context.Context, accountID int64, friend string) error {
	fid, err := s.accountID(ctx, friend)
	if err != nil {
		return err
	}
	if fid == accountID {
		return fmt.Errorf("cannot befriend yourself")
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO friends (account_id, friend_id) VALUES (?, ?)", accountID, fid)
	return err
}

// RemoveFriend removes friend from the account's friend list
func (s *Store) RemoveFriend(ctx context.Context, accountID int64, friend string) error {
	fid, err := s.accountID(ctx, friend)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM friends WHERE account_id = ? AND friend_id = ?", accountID, fid)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// Friends returns the usernames on an account's friend list
func (s *Store) Friends(ctx context.Context, accountID int64) ([]string, error) {
	return s.strings(ctx, `
		SELECT a.username FROM friends f JOIN accounts a ON a.id = f.friend_id
		WHERE f.account_id = ? ORDER BY a.username`, accountID)
}

// SaveClientConfig stores the client's opaque settings document
func (s *Store) SaveClientConfig(ctx context.Context, accountID int64, config string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_config (account_id, config) VALUES (?, ?)
		ON CONFLICT(account_id) DO UPDATE SET config = excluded.config`, accountID, config)
	return err
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
