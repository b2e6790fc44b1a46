package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createAccount(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.CreateAccount(context.Background(), NewAccount{
		Username:     name,
		PasswordHash: "hash",
		Location:     Location{Map: "main", X: 100, Y: 200},
		Spells:       []string{"fireball", "heal"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestCreateAndGetAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAccount(t, s, "alice")

	acc, err := s.GetAccount(ctx, "ALICE")
	if err != nil {
		t.Fatal(err)
	}
	if acc.ID != id || acc.Role != RolePlayer || acc.Banned || acc.Guest {
		t.Errorf("account = %+v", acc)
	}
	if _, err := s.GetAccount(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account err = %v", err)
	}
	if _, err := s.CreateAccount(ctx, NewAccount{Username: "alice"}); err == nil {
		t.Error("duplicate username accepted")
	}
}

func TestLoadLoginPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAccount(t, s, "alice")
	createAccount(t, s, "bob")

	s.AddItem(ctx, id, "health_potion", 2)
	s.AddItem(ctx, id, "health_potion", 1)
	s.Equip(ctx, id, "weapon", "iron_sword")
	s.AddCollectable(ctx, id, "mount", "horse")
	if err := s.AddPermission(ctx, "alice", "admin.kick"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFriend(ctx, id, "bob"); err != nil {
		t.Fatal(err)
	}
	s.SaveClientConfig(ctx, id, `{"volume":3}`)

	rec, err := s.LoadLoginPayload(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Stats.Level != 1 || rec.Stats.MaxXP != XPToNextLevel(1) || rec.Stats.Health != 100 {
		t.Errorf("stats = %+v", rec.Stats)
	}
	if rec.Location == nil || rec.Location.Map != "main" || rec.Location.X != 100 {
		t.Errorf("location = %+v", rec.Location)
	}
	if len(rec.Inventory) != 1 || rec.Inventory[0].Quantity != 3 {
		t.Errorf("inventory = %+v", rec.Inventory)
	}
	if rec.Equipment["weapon"] != "iron_sword" {
		t.Errorf("equipment = %+v", rec.Equipment)
	}
	if len(rec.Collectables) != 1 || rec.Collectables[0].Item != "horse" {
		t.Errorf("collectables = %+v", rec.Collectables)
	}
	if len(rec.Spells) != 2 || len(rec.Permissions) != 1 || len(rec.Friends) != 1 {
		t.Errorf("spells=%v perms=%v friends=%v", rec.Spells, rec.Permissions, rec.Friends)
	}
	if rec.ClientConfig != `{"volume":3}` {
		t.Errorf("client config = %q", rec.ClientConfig)
	}
}

func TestLoginPayloadWithoutLocation(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateAccount(context.Background(), NewAccount{Username: "ghost", Guest: true})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := s.LoadLoginPayload(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Location != nil {
		t.Errorf("location = %+v, want nil", rec.Location)
	}
	if !rec.Account.Guest {
		t.Error("guest flag lost")
	}
}

func TestSaveStatsAndLocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAccount(t, s, "alice")

	want := Stats{Health: 50, MaxHealth: 120, Stamina: 10, MaxStamina: 90, XP: 30, MaxXP: 282, Level: 2, Currency: 7}
	if err := s.SaveStats(ctx, id, want); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveLocation(ctx, id, Location{Map: "cave", X: 5, Y: 6, Direction: "left"}); err != nil {
		t.Fatal(err)
	}
	rec, err := s.LoadLoginPayload(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Stats != want {
		t.Errorf("stats = %+v, want %+v", rec.Stats, want)
	}
	if rec.Location.Map != "cave" || rec.Location.Direction != "left" {
		t.Errorf("location = %+v", rec.Location)
	}
}

func TestSessionID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAccount(t, s, "alice")

	s.SetSessionID(ctx, id, "old")
	s.SetSessionID(ctx, id, "new")
	// the old session disconnecting must not clear the new one
	s.ClearSessionID(ctx, id, "old")
	acc, _ := s.GetAccountByID(ctx, id)
	if acc.SessionID != "new" {
		t.Errorf("session = %q, want new", acc.SessionID)
	}
	s.ClearSessionID(ctx, id, "new")
	acc, _ = s.GetAccountByID(ctx, id)
	if acc.SessionID != "" {
		t.Errorf("session = %q, want empty", acc.SessionID)
	}
}

func TestBanAndPermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "alice")

	if err := s.SetBanned(ctx, "alice", true); err != nil {
		t.Fatal(err)
	}
	acc, _ := s.GetAccount(ctx, "alice")
	if !acc.Banned {
		t.Error("not banned")
	}
	if err := s.SetBanned(ctx, "nobody", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("ban missing = %v", err)
	}

	s.AddPermission(ctx, "alice", "admin.*")
	s.AddPermission(ctx, "alice", "admin.*")
	s.AddPermission(ctx, "alice", "chat.color")
	s.RemovePermission(ctx, "alice", "chat.color")
	perms, err := s.Permissions(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 1 || perms[0] != "admin.*" {
		t.Errorf("perms = %v", perms)
	}
}

func TestFriends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createAccount(t, s, "alice")
	createAccount(t, s, "bob")

	if err := s.AddFriend(ctx, id, "alice"); err == nil {
		t.Error("self friendship accepted")
	}
	if err := s.AddFriend(ctx, id, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing friend = %v", err)
	}
	s.AddFriend(ctx, id, "bob")
	if err := s.RemoveFriend(ctx, id, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveFriend(ctx, id, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second removal = %v", err)
	}
}

func TestAuditWriterFlushesOnStop(t *testing.T) {
	s := newTestStore(t)
	a := NewAudit(s, nil)
	a.Record(AuditKick, "admin", "alice", "")
	a.Record(AuditBan, "admin", "bob", "spamming")
	a.Stop()
	a.Stop()

	events, err := s.RecentAudit(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Action != AuditBan || events[0].Detail != "spamming" || events[1].Target != "alice" {
		t.Errorf("events = %+v", events)
	}
}

func TestXPFormulas(t *testing.T) {
	if XPForLevel(1) != 0 || XPForLevel(2) != 100 {
		t.Errorf("XPForLevel(1,2) = %d, %d", XPForLevel(1), XPForLevel(2))
	}
	for lvl := 1; lvl < 20; lvl++ {
		if XPToNextLevel(lvl+1) <= XPToNextLevel(lvl) {
			t.Errorf("level %d curve not increasing", lvl)
		}
	}
}
