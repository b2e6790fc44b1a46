package server

import (
	"strings"
	"testing"
	"time"
)

func invite(t *testing.T, w *World, from, to *Player) {
	t.Helper()
	w.Do(func() { w.handlePartyInvite(from, packet(t, MsgPartyInvite, UsernameMsg{Username: to.Username})) })
}

func accept(t *testing.T, w *World, p, inviter *Player) {
	t.Helper()
	w.Do(func() { w.handlePartyAccept(p, packet(t, MsgPartyAccept, InviterMsg{Inviter: inviter.Username})) })
}

func partyOf(w *World, p *Player) *Party {
	var party *Party
	w.Do(func() { party = w.parties[p.PartyID] })
	return party
}

func TestPartyInviteAndAccept(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	alice := addPlayer(t, s, "alice", 400, 400)
	bob := addPlayer(t, s, "bob", 500, 400)

	invite(t, w, alice, bob)
	if got := ofType(drain(t, w, bob.client), MsgInvitation); len(got) != 1 {
		t.Fatalf("INVITATION packets = %d, want 1", len(got))
	}
	accept(t, w, bob, alice)

	party := partyOf(w, alice)
	if party == nil || party.Leader != alice.SessionID || len(party.Members) != 2 {
		t.Fatalf("party = %+v", party)
	}
	if partyOf(w, bob) != party {
		t.Error("members disagree on their party")
	}

	var msg PartyUpdateMsg
	updates := ofType(drain(t, w, bob.client), MsgPartyUpdate)
	if len(updates) == 0 {
		t.Fatal("no PARTY_UPDATE")
	}
	if err := updates[len(updates)-1].Unmarshal(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Leader != "alice" || len(msg.Members) != 2 {
		t.Errorf("update = %+v", msg)
	}
}

func TestExpiredInvitationRejected(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	alice := addPlayer(t, s, "alice", 400, 400)
	bob := addPlayer(t, s, "bob", 500, 400)

	invite(t, w, alice, bob)
	w.Do(func() { bob.Invitations[0].Expires = time.Now().Add(-time.Second) })
	accept(t, w, bob, alice)

	if partyOf(w, bob) != nil {
		t.Error("joined through an expired invitation")
	}
}

func TestPurgeInvitations(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	alice := addPlayer(t, s, "alice", 400, 400)
	bob := addPlayer(t, s, "bob", 500, 400)

	invite(t, w, alice, bob)
	var left int
	w.Do(func() {
		w.purgeInvitations(time.Now().Add(invitationExpiry + time.Second))
		left = len(bob.Invitations)
	})
	if left != 0 {
		t.Errorf("invitations = %d, want 0", left)
	}
}

func TestLeaderLeavingPromotesNext(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	alice := addPlayer(t, s, "alice", 400, 400)
	bob := addPlayer(t, s, "bob", 500, 400)
	carol := addPlayer(t, s, "carol", 600, 400)

	invite(t, w, alice, bob)
	accept(t, w, bob, alice)
	invite(t, w, alice, carol)
	accept(t, w, carol, alice)

	w.Do(func() { w.leaveParty(alice) })
	party := partyOf(w, bob)
	if party == nil || party.Leader != bob.SessionID || len(party.Members) != 2 {
		t.Fatalf("party after leader left = %+v", party)
	}

	// down to one member: dissolved
	w.Do(func() { w.leaveParty(carol) })
	var remaining int
	var bobParty string
	w.Do(func() { remaining, bobParty = len(w.parties), bob.PartyID })
	if remaining != 0 || bobParty != "" {
		t.Errorf("parties = %d, bob in %q; want dissolved", remaining, bobParty)
	}
}

func TestPartySizeLimit(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	leader := addPlayer(t, s, "leader", 400, 400)
	for _, name := range []string{"m1", "m2", "m3", "m4"} {
		m := addPlayer(t, s, name, 500, 400)
		invite(t, w, leader, m)
		accept(t, w, m, leader)
	}
	extra := addPlayer(t, s, "extra", 500, 400)
	invite(t, w, leader, extra)

	var pending int
	w.Do(func() { pending = len(extra.Invitations) })
	if pending != 0 {
		t.Error("full party sent an invitation")
	}
	if n := len(partyOf(w, leader).Members); n != maxPartySize {
		t.Errorf("members = %d, want %d", n, maxPartySize)
	}
}

func TestOnlyLeaderKicks(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	alice := addPlayer(t, s, "alice", 400, 400)
	bob := addPlayer(t, s, "bob", 500, 400)
	carol := addPlayer(t, s, "carol", 600, 400)
	invite(t, w, alice, bob)
	accept(t, w, bob, alice)
	invite(t, w, alice, carol)
	accept(t, w, carol, alice)

	w.Do(func() { w.handlePartyKick(bob, packet(t, MsgPartyKick, UsernameMsg{Username: "carol"})) })
	if n := len(partyOf(w, alice).Members); n != 3 {
		t.Fatalf("members = %d after non-leader kick, want 3", n)
	}
	w.Do(func() { w.handlePartyKick(alice, packet(t, MsgPartyKick, UsernameMsg{Username: "carol"})) })
	if n := len(partyOf(w, alice).Members); n != 2 {
		t.Errorf("members = %d after kick, want 2", n)
	}
	if partyOf(w, carol) != nil {
		t.Error("kicked member still in a party")
	}
}

func TestDisconnectLeavesParty(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	alice := addPlayer(t, s, "alice", 400, 400)
	bob := addPlayer(t, s, "bob", 500, 400)
	invite(t, w, alice, bob)
	accept(t, w, bob, alice)

	w.Do(func() { w.removePlayer(alice.SessionID, "test") })
	var parties int
	w.Do(func() { parties = len(w.parties) })
	if parties != 0 || partyOf(w, bob) != nil {
		t.Error("party survived its leader disconnecting")
	}
}

func TestInviteRequiresPermission(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	alice := addPlayer(t, s, "alice", 400, 400)
	bob := addPlayer(t, s, "bob", 500, 400)
	w.Do(func() { alice.Permissions.Remove(PermParty) })

	invite(t, w, alice, bob)
	var pending int
	w.Do(func() { pending = len(bob.Invitations) })
	if pending != 0 {
		t.Error("invitation sent without permission")
	}
	if got := lastNotice(t, w, alice); !strings.Contains(got, "permission") {
		t.Errorf("notice = %q", got)
	}
}
