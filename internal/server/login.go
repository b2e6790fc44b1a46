package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"realm-server/internal/bus"
	"realm-server/internal/codec"
	"realm-server/internal/collision"
	"realm-server/internal/storage"
)

func (w *World) loginFailed(c *Client, reason string) {
	c.SendPacket(MsgLoginFailed, ReasonMsg{Reason: reason})
	c.close(ClosePolicy, reason)
}

func (w *World) handleAuth(c *Client, pkt *codec.Packet) {
	if w.players.Get(c.id) != nil {
		return
	}
	if _, ok := w.pending[c.id]; ok {
		return
	}
	var msg AuthMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		c.close(CloseInvalid, "invalid packet")
		return
	}

	token := msg.Token
	if msg.Sealed != "" {
		opened, err := c.keys.Open(msg.Sealed)
		if err != nil {
			w.loginFailed(c, "invalid token")
			return
		}
		token = opened
	}
	if token == "" && !msg.Guest {
		w.loginFailed(c, "invalid token")
		return
	}

	lang := msg.Language
	if lang == "" {
		lang = pkt.Language
	}
	w.pending[c.id] = &pendingAuth{
		client:   c,
		language: w.negotiate(lang),
		started:  time.Now(),
	}
	if err := w.auth.Process(authRequest{SessionID: c.id, Token: token, Guest: msg.Guest}); err != nil {
		c.logger.Error("auth worker unavailable", "err", err)
		delete(w.pending, c.id)
		w.loginFailed(c, "login unavailable")
	}
}

// handleAuthResult runs on the world goroutine for every worker reply
func (w *World) handleAuthResult(raw []byte) {
	var res authResult
	if err := msgpack.Unmarshal(raw, &res); err != nil {
		w.logger.Error("decoding auth result", "err", err)
		return
	}
	pa, ok := w.pending[res.SessionID]
	if !ok {
		w.logger.Debug("dropping auth reply for closed session", "session", res.SessionID)
		return
	}
	delete(w.pending, res.SessionID)
	w.metrics.AuthDuration.Observe(time.Since(pa.started).Seconds())

	c := pa.client
	if c.isClosed() {
		return
	}
	if !res.OK || res.Payload == nil {
		c.logger.Info("login failed", "reason", res.Reason)
		w.loginFailed(c, res.Reason)
		return
	}

	if !res.Payload.Guest {
		for _, old := range w.players.ByUserID(res.Payload.UserID) {
			if old.SessionID == c.id {
				continue
			}
			if old.client != nil {
				old.client.logger.Info("session replaced by a newer login")
				w.loginFailed(old.client, "logged in from another location")
			}
			w.removePlayer(old.SessionID, "session replaced")
		}
	}
	w.spawn(c, res.Payload, pa.language)
}

// spawn turns an authenticated connection into a player
func (w *World) spawn(c *Client, lp *loginPayload, lang string) {
	now := time.Now()
	p := &Player{
		SessionID:    c.id,
		UserID:       lp.UserID,
		Username:     lp.Username,
		Stats:        lp.Stats,
		Admin:        lp.Admin,
		Guest:        lp.Guest,
		Permissions:  playerPermissions(lp.Permissions, lp.Guest),
		Inventory:    lp.Inventory,
		Equipment:    lp.Equipment,
		Collectables: lp.Collectables,
		Spells:       lp.Spells,
		Cooldowns:    make(map[string]time.Time),
		Friends:      lp.Friends,
		LastActivity: now,
		Language:     lang,
		client:       c,
		timers:       make(map[uint64]*time.Timer),
	}
	if p.Permissions.Admin() {
		p.Admin = true
	}
	if lp.ClientConfig != "" && json.Valid([]byte(lp.ClientConfig)) {
		p.ClientConfig = json.RawMessage(lp.ClientConfig)
	}

	if lp.Location != nil {
		p.Location = Location{Map: lp.Location.Map, X: lp.Location.X, Y: lp.Location.Y, Direction: lp.Location.Direction}
	}
	if !w.knownMap(p.Location.Map) {
		name, pos := w.spawnPoint(w.cfg.World.DefaultMap)
		p.Location = Location{Map: name, X: pos.X, Y: pos.Y, Direction: "down"}
	}

	w.players.Set(c.id, p)
	w.metrics.Players.Set(float64(w.players.Len()))
	c.logger = c.logger.With("user", p.Username)
	c.logger.Info("player spawned", "map", p.Location.Map, "guest", p.Guest)

	w.send(p, MsgLoginSuccess, LoginSuccessMsg{
		Player:       p.Snapshot(),
		Inventory:    p.Inventory,
		Spells:       p.Spells,
		Collectables: p.Collectables,
		Permissions:  p.Permissions.List(),
		Friends:      w.friendStatuses(p),
		Config:       p.ClientConfig,
		Language:     p.Language,
		Revision:     w.revision.Load(),
	})
	w.enterMap(p)
	w.adjustWorldCount(1)

	if !p.Guest {
		uid, sid := p.UserID, p.SessionID
		w.background("storing session id", func(ctx context.Context) error {
			return w.store.SetSessionID(ctx, uid, sid)
		}, nil)
	}
	w.audit.Record(storage.AuditLogin, p.Username, "", c.ip)
}

func (w *World) knownMap(name string) bool {
	if name == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.maps.Entry(ctx, name)
	return err == nil
}

// enterMap shows p the players already on its map and shows p to them
func (w *World) enterMap(p *Player) {
	var others []PlayerSnapshot
	for _, o := range w.players.OnMap(p.Location.Map) {
		if o != p && visibleTo(o, p) {
			others = append(others, o.Snapshot())
		}
	}
	w.send(p, MsgLoadPlayers, others)

	snap := p.Snapshot()
	for _, o := range w.players.OnMap(p.Location.Map) {
		if o != p && visibleTo(p, o) {
			w.send(o, MsgSpawnPlayer, snap)
		}
	}
}

// leaveMap hides p from the players on its current map
func (w *World) leaveMap(p *Player) {
	w.broadcastMap(p.Location.Map, MsgDisconnect, DisconnectMsg{ID: p.SessionID, Username: p.Username}, p)
}

// disconnect is the session-ended event raised by the hub
func (w *World) disconnect(c *Client) {
	delete(w.pending, c.id)
	w.removePlayer(c.id, "disconnected")
}

// removePlayer runs the disconnect cleanup. It is a no-op for ids that are
// no longer cached, so every path may call it.
func (w *World) removePlayer(id, reason string) {
	w.dropPlayer(id, reason, true)
}

// dropPlayer removes a cached player. persist is false for entries too
// malformed to write back.
func (w *World) dropPlayer(id, reason string, persist bool) {
	p := w.players.Get(id)
	if p == nil {
		return
	}
	w.players.Remove(id)
	w.metrics.Players.Set(float64(w.players.Len()))
	w.stopMovement(p)
	p.stopTimers()
	w.leaveParty(p)
	w.limiter.Remove(id)

	w.publish(bus.SubjectDisconnect, MsgDisconnect, DisconnectMsg{ID: p.SessionID, Username: p.Username})
	w.adjustWorldCount(-1)

	if persist && !p.Guest {
		uid, sid, st := p.UserID, p.SessionID, p.Stats
		loc := storage.Location{Map: p.Location.Map, X: p.Location.X, Y: p.Location.Y, Direction: p.Location.Direction}
		w.background("persisting on disconnect", func(ctx context.Context) error {
			if err := w.store.SaveStats(ctx, uid, st); err != nil {
				return err
			}
			if err := w.store.SaveLocation(ctx, uid, loc); err != nil {
				return err
			}
			return w.store.ClearSessionID(ctx, uid, sid)
		}, nil)
	}
	w.audit.Record(storage.AuditLogout, p.Username, "", reason)
	w.logger.Info("player removed", "session", id, "user", p.Username, "reason", reason)
}

// changeMap moves p to another map. Guests switch in place; registered
// players have the new location persisted and are told to reconnect.
func (w *World) changeMap(p *Player, mapName string, pos collision.Position) {
	w.stopMovement(p)
	if mapName == p.Location.Map {
		w.teleport(p, pos)
		return
	}
	w.leaveMap(p)
	p.Location.Map = mapName
	p.Location.X, p.Location.Y = pos.X, pos.Y

	if p.Guest {
		w.enterMap(p)
		return
	}

	uid, c := p.UserID, p.client
	loc := storage.Location{Map: mapName, X: pos.X, Y: pos.Y, Direction: p.Location.Direction}
	w.background("persisting map change", func(ctx context.Context) error {
		return w.store.SaveLocation(ctx, uid, loc)
	}, func(error) {
		if c == nil || c.isClosed() {
			return
		}
		c.SendPacket(MsgReconnect, ReconnectMsg{Map: loc.Map, X: loc.X, Y: loc.Y})
		c.close(CloseNormal, "map change")
	})
}

// teleport moves p within its map
func (w *World) teleport(p *Player, pos collision.Position) {
	p.Location.X, p.Location.Y = pos.X, pos.Y
	w.broadcastFrom(p, MsgTeleportXY, TeleportMsg{
		ID:       p.SessionID,
		X:        pos.X,
		Y:        pos.Y,
		Revision: w.nextRevision(),
	})
}

// mapEntry resolves a map for commands and warps
func (w *World) mapEntry(name string) (*collision.Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return w.maps.Entry(ctx, name)
}
