package server

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"realm-server/internal/codec"
	"realm-server/internal/collision"
)

// dispatch routes one packet. It runs on the world goroutine.
func (w *World) dispatch(c *Client, pkt *codec.Packet) {
	if c.isClosed() {
		return
	}
	p := w.players.Get(c.id)
	if p == nil && !unauthenticatedTypes[pkt.Type] {
		c.logger.Debug("packet before login", "type", pkt.Type)
		return
	}
	if p != nil {
		p.LastActivity = time.Now()
	}

	switch pkt.Type {
	case MsgTimeSync:
		w.handleTimeSync(c, pkt)
	case MsgServerTime:
		c.SendPacket(MsgServerTime, ServerTimeMsg{Time: time.Now().UnixMilli()})
	case MsgAuth:
		w.handleAuth(c, pkt)
	case MsgBenchmark:
		w.handleBenchmark(c, pkt)
	case MsgMoveXY:
		w.handleMove(p, pkt)
	case MsgStats:
		w.send(p, MsgStats, StatsMsg{ID: p.SessionID, Stats: p.Stats})
	case MsgAnimation:
		w.handleAnimation(p, pkt)
	case MsgLogout:
		c.close(CloseNormal, "logout")
		w.removePlayer(p.SessionID, "logout")
	case MsgChat:
		w.handleChat(p, pkt)
	case MsgWhisper:
		w.handleWhisper(p, pkt)
	case MsgSpell:
		w.handleSpell(p, pkt)
	case MsgMount:
		w.handleMount(p, pkt)
	case MsgStealth:
		w.handleStealth(p)
	case MsgNoclip:
		w.handleNoclip(p)
	case MsgTeleportXY:
		w.handleTeleport(p, pkt)
	case MsgCommand:
		w.handleCommand(p, pkt)
	case MsgPartyInvite:
		w.handlePartyInvite(p, pkt)
	case MsgPartyAccept:
		w.handlePartyAccept(p, pkt)
	case MsgPartyDecline:
		w.handlePartyDecline(p, pkt)
	case MsgPartyLeave:
		w.leaveParty(p)
	case MsgPartyKick:
		w.handlePartyKick(p, pkt)
	case MsgFriendAdd:
		w.handleFriendAdd(p, pkt)
	case MsgFriendRemove:
		w.handleFriendRemove(p, pkt)
	case MsgFriendList:
		w.send(p, MsgFriendList, w.friendStatuses(p))
	case MsgClientConfig:
		w.handleClientConfig(p, pkt)
	}
}

func (w *World) handleTimeSync(c *Client, pkt *codec.Packet) {
	var msg TimeSyncMsg
	if len(pkt.Data) > 0 {
		_ = pkt.Unmarshal(&msg)
	}
	msg.Server = time.Now().UnixMilli()
	c.SendPacket(MsgTimeSync, msg)
}

func (w *World) handleBenchmark(c *Client, pkt *codec.Packet) {
	if !w.cfg.Server.Benchmark {
		return
	}
	c.SendPacket(MsgBenchmark, BenchmarkMsg{Size: len(pkt.Data)})
}

func (w *World) handleAnimation(p *Player, pkt *codec.Packet) {
	var msg AnimationMsg
	if err := pkt.Unmarshal(&msg); err != nil || msg.Name == "" {
		return
	}
	w.broadcastFrom(p, MsgAnimation, AnimationMsg{
		ID:       p.SessionID,
		Name:     msg.Name,
		Revision: w.nextRevision(),
	})
}

func (w *World) handleClientConfig(p *Player, pkt *codec.Packet) {
	if len(pkt.Data) == 0 || !json.Valid(pkt.Data) {
		return
	}
	p.ClientConfig = append(json.RawMessage(nil), pkt.Data...)
	if p.Guest {
		return
	}
	uid, cfg := p.UserID, string(p.ClientConfig)
	w.background("saving client config", func(ctx context.Context) error {
		return w.store.SaveClientConfig(ctx, uid, cfg)
	}, nil)
}

// handleMount toggles the mount. Mounting requires an owned mount; without
// a name the first owned one is used.
func (w *World) handleMount(p *Player, pkt *codec.Packet) {
	var msg MountMsg
	if len(pkt.Data) > 0 {
		_ = pkt.Unmarshal(&msg)
	}
	if !p.Permissions.Has(PermMount) {
		w.notify(p, "You do not have permission to ride mounts")
		return
	}
	if p.Mounted {
		p.Mounted = false
		p.MountType = ""
	} else {
		mount := msg.Mount
		if mount == "" && len(p.Collectables) > 0 {
			mount = p.Collectables[0]
		}
		if mount == "" || !slices.Contains(p.Collectables, mount) {
			w.notify(p, "You do not own that mount")
			return
		}
		p.Mounted = true
		p.MountType = mount
	}
	w.broadcastFrom(p, MsgMount, MountMsg{
		ID:      p.SessionID,
		Mount:   p.MountType,
		Mounted: p.Mounted,
	})
}

func (w *World) handleStealth(p *Player) {
	if !p.Permissions.Has(PermStealth) {
		w.notify(p, "You do not have permission to use stealth")
		return
	}
	p.Stealth = !p.Stealth
	rev := w.nextRevision()
	msg := StealthMsg{ID: p.SessionID, Stealth: p.Stealth, Revision: rev}
	snap := p.Snapshot()
	for _, o := range w.players.OnMap(p.Location.Map) {
		switch {
		case o == p || o.Admin:
			w.send(o, MsgStealth, msg)
		case p.Stealth:
			w.send(o, MsgDisconnect, DisconnectMsg{ID: p.SessionID, Username: p.Username})
		default:
			w.send(o, MsgSpawnPlayer, snap)
		}
	}
}

func (w *World) handleNoclip(p *Player) {
	if !p.Permissions.Has(PermNoclip) {
		w.notify(p, "You do not have permission to use noclip")
		return
	}
	p.Noclip = !p.Noclip
	if p.Noclip {
		w.notify(p, "Noclip enabled")
	} else {
		w.notify(p, "Noclip disabled")
	}
}

func (w *World) handleTeleport(p *Player, pkt *codec.Packet) {
	if !p.Permissions.Has(PermTeleport) {
		w.notify(p, "You do not have permission to teleport")
		return
	}
	var msg TeleportMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	e, err := w.mapEntry(p.Location.Map)
	if err != nil {
		w.notify(p, "Map data unavailable")
		return
	}
	maxX := float64(e.GridWidth * e.TileWidth)
	maxY := float64(e.GridHeight * e.TileHeight)
	if msg.X < 0 || msg.Y < 0 || msg.X >= maxX || msg.Y >= maxY {
		w.notify(p, "Position is outside the map")
		return
	}
	w.stopMovement(p)
	w.teleport(p, collision.Position{X: msg.X, Y: msg.Y})
}
