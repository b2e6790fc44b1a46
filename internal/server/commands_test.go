package server

import (
	"context"
	"strings"
	"testing"
	"time"
)

func command(t *testing.T, w *World, p *Player, cmd string, args ...string) {
	t.Helper()
	w.Do(func() { w.handleCommand(p, packet(t, MsgCommand, CommandMsg{Command: cmd, Args: args})) })
}

// lastNotice returns the most recent NOTIFY text sent to p
func lastNotice(t *testing.T, w *World, p *Player) string {
	t.Helper()
	notes := ofType(drain(t, w, p.client), MsgNotify)
	if len(notes) == 0 {
		return ""
	}
	var msg NotifyMsg
	if err := notes[len(notes)-1].Unmarshal(&msg); err != nil {
		t.Fatal(err)
	}
	return msg.Message
}

func TestCommandRequiresPermission(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	alice := addPlayer(t, s, "alice", 400, 400)
	bob := addPlayer(t, s, "bob", 500, 400)

	command(t, w, alice, CmdKick, "bob")
	if w.players.Get(bob.SessionID) == nil {
		t.Fatal("kick without permission removed the target")
	}
	if got := lastNotice(t, w, alice); !strings.Contains(got, "permission") {
		t.Errorf("notice = %q", got)
	}
}

func TestKick(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	mod := addPlayer(t, s, "mod", 400, 400, PermKick)
	bob := addPlayer(t, s, "bob", 500, 400)

	command(t, w, mod, "kick", "BOB")
	if w.players.Get(bob.SessionID) != nil {
		t.Error("kicked player still cached")
	}
	if !bob.client.isClosed() {
		t.Error("kicked connection left open")
	}
}

func TestAdminsProtectedFromEachOther(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	mod := addPlayer(t, s, "mod", 400, 400, PermAdminAll)
	other := addPlayer(t, s, "other", 500, 400, PermAdminAll)
	root := addPlayer(t, s, "root", 600, 400, PermAll)

	command(t, w, mod, CmdKick, "other")
	if w.players.Get(other.SessionID) == nil {
		t.Fatal("admin kicked another admin")
	}
	command(t, w, root, CmdKick, "other")
	if w.players.Get(other.SessionID) != nil {
		t.Error("root could not kick an admin")
	}
}

func TestBanOfflineAccount(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	mod := addPlayer(t, s, "mod", 400, 400, PermBan)
	bob := addPlayer(t, s, "bob", 500, 400)

	command(t, w, mod, CmdBan, "bob")
	waitFor(t, "ban to apply", func() bool { return w.players.Get(bob.SessionID) == nil })

	acc, err := w.store.GetAccount(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !acc.Banned {
		t.Error("account not banned")
	}

	command(t, w, mod, CmdBan, "nobody")
	waitFor(t, "unknown account notice", func() bool {
		return strings.Contains(lastNotice(t, w, mod), "No account")
	})
}

func TestPermissionCommand(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	mod := addPlayer(t, s, "mod", 400, 400, PermPermission)
	bob := addPlayer(t, s, "bob", 500, 400)

	command(t, w, mod, CmdPermission, "add", "bob", PermTeleport)
	waitFor(t, "permission grant", func() bool {
		var ok bool
		w.Do(func() { ok = bob.Permissions.Has(PermTeleport) })
		return ok
	})
	perms, err := w.store.Permissions(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 1 || perms[0] != PermTeleport {
		t.Errorf("stored permissions = %v", perms)
	}

	command(t, w, mod, CmdPermission, "remove", "bob", PermTeleport)
	waitFor(t, "permission revoke", func() bool {
		var ok bool
		w.Do(func() { ok = bob.Permissions.Has(PermTeleport) })
		return !ok
	})
}

func TestRestartCancel(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	w.restartUnit = 20 * time.Millisecond
	admin := addPlayer(t, s, "admin", 400, 400, PermRestart)
	bob := addPlayer(t, s, "bob", 500, 400)

	command(t, w, admin, CmdRestart, "2")
	command(t, w, admin, CmdRestart, "cancel")
	time.Sleep(100 * time.Millisecond)

	if w.players.Get(bob.SessionID) == nil {
		t.Fatal("cancelled restart disconnected players")
	}
	var timers int
	w.Do(func() { timers = len(w.restartTimers) })
	if timers != 0 {
		t.Errorf("restart timers = %d, want 0", timers)
	}
}

func TestRestartDisconnectsEveryone(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	w.restartUnit = 20 * time.Millisecond
	admin := addPlayer(t, s, "admin", 400, 400, PermRestart)
	bob := addPlayer(t, s, "bob", 500, 400)

	command(t, w, admin, CmdRestart, "1")
	waitFor(t, "restart", func() bool { return w.players.Len() == 0 })
	if !bob.client.isClosed() || !admin.client.isClosed() {
		t.Error("connections left open after restart")
	}
}

func TestRestartRejectsBadMinutes(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	admin := addPlayer(t, s, "admin", 400, 400, PermRestart)

	command(t, w, admin, CmdRestart, "90")
	var timers int
	w.Do(func() { timers = len(w.restartTimers) })
	if timers != 0 {
		t.Error("restart scheduled with out-of-range minutes")
	}
	if got := lastNotice(t, w, admin); !strings.Contains(got, "between") {
		t.Errorf("notice = %q", got)
	}
}

func TestWarpWithinMap(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	admin := addPlayer(t, s, "admin", 400, 400, PermWarp)

	command(t, w, admin, CmdWarp, w.cfg.World.DefaultMap, "640", "320")
	var x, y float64
	w.Do(func() { x, y = admin.Location.X, admin.Location.Y })
	if x != 640 || y != 320 {
		t.Errorf("position = %v,%v, want 640,320", x, y)
	}

	command(t, w, admin, CmdWarp, "atlantis")
	if got := lastNotice(t, w, admin); !strings.Contains(got, "Unknown map") {
		t.Errorf("notice = %q", got)
	}
}
