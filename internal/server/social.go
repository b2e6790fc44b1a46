package server

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"realm-server/internal/codec"
	"realm-server/internal/storage"
)

const maxChatLength = 256

// ChatFilter rewrites a chat line for a recipient's language. Profanity
// filtering and translation live behind it.
type ChatFilter interface {
	Filter(text, language string) string
}

type identityFilter struct{}

func (identityFilter) Filter(text, _ string) string { return text }

// chatText trims a message and reports whether it may be sent
func chatText(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" || utf8.RuneCountInString(text) > maxChatLength {
		return "", false
	}
	return text, true
}

func (w *World) handleChat(p *Player, pkt *codec.Packet) {
	var msg ChatMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	text, ok := chatText(msg.Message)
	if !ok {
		w.notify(p, "Message is empty or too long")
		return
	}

	// One frame per language present on the map.
	frames := make(map[string][]byte)
	for _, o := range w.players.OnMap(p.Location.Map) {
		if o.client == nil || !visibleTo(p, o) {
			continue
		}
		frame, ok := frames[o.Language]
		if !ok {
			frame = w.frame(MsgChat, ChatMsg{
				ID:       p.SessionID,
				Username: p.Username,
				Message:  w.filter.Filter(text, o.Language),
			})
			frames[o.Language] = frame
		}
		if frame != nil {
			o.client.Send(frame, false)
		}
	}
}

func (w *World) handleWhisper(p *Player, pkt *codec.Packet) {
	var msg WhisperMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	text, ok := chatText(msg.Message)
	if !ok {
		w.notify(p, "Message is empty or too long")
		return
	}
	t := w.players.ByUsername(msg.To)
	if t == nil || (t.Stealth && !p.Admin) {
		w.notify(p, "Player "+msg.To+" is not online")
		return
	}
	w.send(t, MsgWhisper, WhisperMsg{From: p.Username, To: t.Username, Message: w.filter.Filter(text, t.Language)})
	w.send(p, MsgWhisper, WhisperMsg{From: p.Username, To: t.Username, Message: text})
}

// friendStatuses lists p's friends with their online flags. Stealthed
// players show as offline.
func (w *World) friendStatuses(p *Player) []FriendStatus {
	out := make([]FriendStatus, 0, len(p.Friends))
	for _, name := range p.Friends {
		f := w.players.ByUsername(name)
		out = append(out, FriendStatus{Username: name, Online: f != nil && !f.Stealth})
	}
	return out
}

func (w *World) handleFriendAdd(p *Player, pkt *codec.Packet) {
	var msg UsernameMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	name := strings.TrimSpace(msg.Username)
	switch {
	case p.Guest:
		w.notify(p, "Guests cannot add friends")
		return
	case !p.Permissions.Has(PermFriends):
		w.notify(p, "You do not have permission to add friends")
		return
	case name == "" || strings.EqualFold(name, p.Username):
		w.notify(p, "You cannot add that player")
		return
	case slices.ContainsFunc(p.Friends, func(f string) bool { return strings.EqualFold(f, name) }):
		w.notify(p, name+" is already your friend")
		return
	}

	id, userID := p.SessionID, p.UserID
	var friends []string
	w.background("adding friend", func(ctx context.Context) error {
		if err := w.store.AddFriend(ctx, userID, name); err != nil {
			return err
		}
		var err error
		friends, err = w.store.Friends(ctx, userID)
		return err
	}, func(err error) {
		p := w.players.Get(id)
		if p == nil {
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			w.notify(p, "No account named "+name)
			return
		}
		if err != nil {
			w.notify(p, "Could not add "+name)
			return
		}
		p.Friends = friends
		w.send(p, MsgFriendList, w.friendStatuses(p))
	})
}

func (w *World) handleFriendRemove(p *Player, pkt *codec.Packet) {
	var msg UsernameMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	if p.Guest {
		w.notify(p, "Guests cannot remove friends")
		return
	}
	if !p.Permissions.Has(PermFriends) {
		w.notify(p, "You do not have permission to remove friends")
		return
	}
	name := strings.TrimSpace(msg.Username)
	id, userID := p.SessionID, p.UserID
	w.background("removing friend", func(ctx context.Context) error {
		return w.store.RemoveFriend(ctx, userID, name)
	}, func(err error) {
		p := w.players.Get(id)
		if p == nil {
			return
		}
		if err != nil {
			w.notify(p, name+" is not your friend")
			return
		}
		p.Friends = slices.DeleteFunc(p.Friends, func(f string) bool { return strings.EqualFold(f, name) })
		w.send(p, MsgFriendList, w.friendStatuses(p))
	})
}
