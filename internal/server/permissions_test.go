package server

import "testing"

func TestPermissionsHas(t *testing.T) {
	tests := []struct {
		held []string
		perm string
		want bool
	}{
		{[]string{"admin.kick"}, "admin.kick", true},
		{[]string{"admin.kick"}, "admin.ban", false},
		{[]string{"admin.*"}, "admin.ban", true},
		{[]string{"admin.*"}, "admin.*", true},
		{[]string{"admin.*"}, "administrator", false},
		{[]string{"admin.*"}, "chat.color", false},
		{[]string{"chat.*"}, "chat.color.red", true},
		{[]string{"*"}, "anything.at.all", true},
		{nil, "admin.kick", false},
		{[]string{"admin*"}, "admin.kick", false},
	}
	for _, tt := range tests {
		if got := NewPermissions(tt.held).Has(tt.perm); got != tt.want {
			t.Errorf("%v.Has(%q) = %v, want %v", tt.held, tt.perm, got, tt.want)
		}
	}
}

func TestCanActOn(t *testing.T) {
	admin := NewPermissions([]string{"admin.*"})
	root := NewPermissions([]string{"*"})
	player := NewPermissions(nil)

	if !canActOn(admin, player) {
		t.Error("admin should act on player")
	}
	if canActOn(admin, admin) {
		t.Error("admin should not act on admin")
	}
	if !canActOn(root, admin) {
		t.Error("root should act on admin")
	}
}

func TestPermissionsList(t *testing.T) {
	p := NewPermissions([]string{"b", " a ", ""})
	p.Add("c")
	p.Remove("b")
	got := p.List()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("List = %v", got)
	}
}

func TestPlayerPermissionsDefaults(t *testing.T) {
	p := playerPermissions([]string{PermKick}, false)
	for _, perm := range []string{PermKick, PermParty, PermFriends, PermMount} {
		if !p.Has(perm) {
			t.Errorf("missing %s", perm)
		}
	}
	if p.Admin() {
		t.Error("social defaults granted admin")
	}
	if playerPermissions(nil, true).Has(PermFriends) {
		t.Error("guest granted friends")
	}
}
