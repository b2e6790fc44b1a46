package server

import (
	"slices"
	"strings"
	"time"

	"realm-server/internal/codec"
)

const (
	maxPartySize     = 5
	invitationExpiry = 60 * time.Second
)

// Party is a group of players sharing heals and immune to each other's
// attacks. Members are session ids; the leader is always a member.
type Party struct {
	ID      string
	Leader  string
	Members []string
}

func (w *World) partyUpdate(party *Party) PartyUpdateMsg {
	msg := PartyUpdateMsg{ID: party.ID, Members: []string{}}
	for _, id := range party.Members {
		if m := w.players.Get(id); m != nil {
			msg.Members = append(msg.Members, m.Username)
			if id == party.Leader {
				msg.Leader = m.Username
			}
		}
	}
	return msg
}

func (w *World) sendPartyUpdate(party *Party) {
	msg := w.partyUpdate(party)
	for _, id := range party.Members {
		w.send(w.players.Get(id), MsgPartyUpdate, msg)
	}
}

func (w *World) handlePartyInvite(p *Player, pkt *codec.Packet) {
	var msg UsernameMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	if !p.Permissions.Has(PermParty) {
		w.notify(p, "You do not have permission to form parties")
		return
	}
	t := w.players.ByUsername(msg.Username)
	switch {
	case t == nil:
		w.notify(p, "Player not found")
		return
	case t == p:
		w.notify(p, "You cannot invite yourself")
		return
	case t.PartyID != "":
		w.notify(p, t.Username+" is already in a party")
		return
	}
	if party := w.parties[p.PartyID]; party != nil {
		if party.Leader != p.SessionID {
			w.notify(p, "Only the party leader can invite")
			return
		}
		if len(party.Members) >= maxPartySize {
			w.notify(p, "Your party is full")
			return
		}
	}

	now := time.Now()
	expires := now.Add(invitationExpiry)
	t.Invitations = slices.DeleteFunc(t.Invitations, func(inv Invitation) bool {
		return inv.From == p.Username
	})
	t.Invitations = append(t.Invitations, Invitation{From: p.Username, Expires: expires})
	w.send(t, MsgInvitation, InvitationMsg{From: p.Username, Expires: expires.UnixMilli()})
	w.notify(p, "Invited "+t.Username)
}

// takeInvitation removes and returns a live invitation from inviter
func takeInvitation(p *Player, inviter string, now time.Time) bool {
	i := slices.IndexFunc(p.Invitations, func(inv Invitation) bool {
		return strings.EqualFold(inv.From, inviter)
	})
	if i < 0 {
		return false
	}
	inv := p.Invitations[i]
	p.Invitations = slices.Delete(p.Invitations, i, i+1)
	return now.Before(inv.Expires)
}

func (w *World) handlePartyAccept(p *Player, pkt *codec.Packet) {
	var msg InviterMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	if !p.Permissions.Has(PermParty) {
		w.notify(p, "You do not have permission to join parties")
		return
	}
	if !takeInvitation(p, msg.Inviter, time.Now()) {
		w.notify(p, "That invitation has expired")
		return
	}
	if p.PartyID != "" {
		w.notify(p, "You are already in a party")
		return
	}
	inviter := w.players.ByUsername(msg.Inviter)
	if inviter == nil {
		w.notify(p, msg.Inviter+" is no longer online")
		return
	}

	party := w.parties[inviter.PartyID]
	if party == nil {
		party = &Party{ID: GenerateID(8), Leader: inviter.SessionID, Members: []string{inviter.SessionID}}
		w.parties[party.ID] = party
		inviter.PartyID = party.ID
	}
	if len(party.Members) >= maxPartySize {
		w.notify(p, "That party is full")
		return
	}
	party.Members = append(party.Members, p.SessionID)
	p.PartyID = party.ID
	w.sendPartyUpdate(party)
}

func (w *World) handlePartyDecline(p *Player, pkt *codec.Packet) {
	var msg InviterMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	takeInvitation(p, msg.Inviter, time.Now())
	if inviter := w.players.ByUsername(msg.Inviter); inviter != nil {
		w.notify(inviter, p.Username+" declined your invitation")
	}
}

func (w *World) handlePartyKick(p *Player, pkt *codec.Packet) {
	var msg UsernameMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	party := w.parties[p.PartyID]
	if party == nil || party.Leader != p.SessionID {
		w.notify(p, "Only the party leader can remove members")
		return
	}
	t := w.players.ByUsername(msg.Username)
	if t == nil || t.PartyID != party.ID || t == p {
		w.notify(p, "That player is not in your party")
		return
	}
	w.notify(t, "You were removed from the party")
	w.leaveParty(t)
}

// leaveParty takes p out of its party, promoting the next member when the
// leader leaves and dissolving a party that drops to one member
func (w *World) leaveParty(p *Player) {
	party := w.parties[p.PartyID]
	p.PartyID = ""
	if party == nil {
		return
	}
	party.Members = slices.DeleteFunc(party.Members, func(id string) bool { return id == p.SessionID })
	w.send(p, MsgPartyUpdate, PartyUpdateMsg{Members: []string{}})

	if len(party.Members) <= 1 {
		for _, id := range party.Members {
			if m := w.players.Get(id); m != nil {
				m.PartyID = ""
				w.send(m, MsgPartyUpdate, PartyUpdateMsg{Members: []string{}})
				w.notify(m, "Your party has been disbanded")
			}
		}
		delete(w.parties, party.ID)
		return
	}
	if party.Leader == p.SessionID {
		party.Leader = party.Members[0]
	}
	w.sendPartyUpdate(party)
}

// purgeInvitations drops expired invitations
func (w *World) purgeInvitations(now time.Time) {
	for _, p := range w.players.List() {
		if len(p.Invitations) == 0 {
			continue
		}
		p.Invitations = slices.DeleteFunc(p.Invitations, func(inv Invitation) bool {
			return !now.Before(inv.Expires)
		})
	}
}
