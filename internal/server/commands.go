package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"realm-server/internal/bus"
	"realm-server/internal/codec"
	"realm-server/internal/collision"
	"realm-server/internal/storage"
)

// Administrative commands
const (
	CmdSummon     = "SUMMON"
	CmdKick       = "KICK"
	CmdBan        = "BAN"
	CmdUnban      = "UNBAN"
	CmdPermission = "PERMISSION"
	CmdRestart    = "RESTART"
	CmdBroadcast  = "BROADCAST"
	CmdWarp       = "WARP"
	CmdReload     = "RELOAD"
)

var commandPerms = map[string]string{
	CmdSummon:     PermSummon,
	CmdKick:       PermKick,
	CmdBan:        PermBan,
	CmdUnban:      PermUnban,
	CmdPermission: PermPermission,
	CmdRestart:    PermRestart,
	CmdBroadcast:  PermBroadcast,
	CmdWarp:       PermWarp,
	CmdReload:     PermReload,
}

func (w *World) handleCommand(p *Player, pkt *codec.Packet) {
	var msg CommandMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	cmd := strings.ToUpper(strings.TrimSpace(msg.Command))
	perm, ok := commandPerms[cmd]
	if !ok {
		w.notify(p, "Unknown command")
		return
	}
	if !p.Permissions.Has(perm) {
		w.notify(p, "You do not have permission to use "+cmd)
		return
	}

	switch cmd {
	case CmdSummon:
		w.cmdSummon(p, msg.Args)
	case CmdKick:
		w.cmdKick(p, msg.Args)
	case CmdBan:
		w.cmdBan(p, msg.Args, true)
	case CmdUnban:
		w.cmdBan(p, msg.Args, false)
	case CmdPermission:
		w.cmdPermission(p, msg.Args)
	case CmdRestart:
		w.cmdRestart(p, msg.Args)
	case CmdBroadcast:
		w.cmdBroadcast(p, msg.Args)
	case CmdWarp:
		w.cmdWarp(p, msg.Args)
	case CmdReload:
		w.cmdReload(p)
	}
}

// onlineTarget resolves a command's username argument to a player the
// actor may act on, notifying the actor otherwise
func (w *World) onlineTarget(p *Player, args []string) *Player {
	if len(args) < 1 {
		w.notify(p, "Missing username")
		return nil
	}
	t := w.players.ByUsername(args[0])
	if t == nil {
		w.notify(p, "Player "+args[0]+" is not online")
		return nil
	}
	if t != p && !canActOn(p.Permissions, t.Permissions) {
		w.notify(p, "You cannot do that to "+t.Username)
		return nil
	}
	return t
}

func (w *World) cmdSummon(p *Player, args []string) {
	t := w.onlineTarget(p, args)
	if t == nil || t == p {
		return
	}
	w.changeMap(t, p.Location.Map, p.Location.Position())
	w.notify(t, "You have been summoned by "+p.Username)
	w.notify(p, "Summoned "+t.Username)
	w.audit.Record(storage.AuditSummon, p.Username, t.Username, p.Location.Map)
}

// kick closes a player's connection and removes it at once
func (w *World) kick(t *Player, reason string) {
	w.notify(t, reason)
	if t.client != nil {
		t.client.close(CloseNormal, reason)
	}
	w.removePlayer(t.SessionID, reason)
}

func (w *World) cmdKick(p *Player, args []string) {
	t := w.onlineTarget(p, args)
	if t == nil {
		return
	}
	if t == p {
		w.notify(p, "You cannot kick yourself")
		return
	}
	w.audit.Record(storage.AuditKick, p.Username, t.Username, "")
	w.kick(t, "You have been kicked")
	w.notify(p, "Kicked "+t.Username)
}

// cmdBan bans or unbans an account. Offline targets are checked against
// their stored permissions.
func (w *World) cmdBan(p *Player, args []string, ban bool) {
	if len(args) < 1 {
		w.notify(p, "Missing username")
		return
	}
	name := args[0]
	if strings.EqualFold(name, p.Username) {
		w.notify(p, "You cannot ban yourself")
		return
	}
	if t := w.players.ByUsername(name); t != nil && !canActOn(p.Permissions, t.Permissions) {
		w.notify(p, "You cannot do that to "+t.Username)
		return
	}

	actor := p.Permissions
	actorID := p.SessionID
	var refused bool
	w.background("updating ban", func(ctx context.Context) error {
		perms, err := w.store.Permissions(ctx, name)
		if err != nil {
			return err
		}
		if !canActOn(actor, NewPermissions(perms)) {
			refused = true
			return nil
		}
		return w.store.SetBanned(ctx, name, ban)
	}, func(err error) {
		p := w.players.Get(actorID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			w.notify(p, "No account named "+name)
		case err != nil:
			w.notify(p, "Could not update "+name)
		case refused:
			w.notify(p, "You cannot do that to "+name)
		case ban:
			w.audit.Record(storage.AuditBan, usernameOf(p), name, "")
			if t := w.players.ByUsername(name); t != nil {
				w.kick(t, "You have been banned")
			}
			w.notify(p, "Banned "+name)
		default:
			w.audit.Record(storage.AuditUnban, usernameOf(p), name, "")
			w.notify(p, "Unbanned "+name)
		}
	})
}

func usernameOf(p *Player) string {
	if p == nil {
		return ""
	}
	return p.Username
}

// cmdPermission handles "add|remove|list user [perm]"
func (w *World) cmdPermission(p *Player, args []string) {
	if len(args) < 2 {
		w.notify(p, "Usage: PERMISSION add|remove|list <user> [permission]")
		return
	}
	op, name := strings.ToLower(args[0]), args[1]
	actorID := p.SessionID

	if op == "list" {
		var perms []string
		w.background("listing permissions", func(ctx context.Context) (err error) {
			perms, err = w.store.Permissions(ctx, name)
			return err
		}, func(err error) {
			if err != nil {
				w.notify(w.players.Get(actorID), "Could not list permissions of "+name)
				return
			}
			w.send(w.players.Get(actorID), MsgPermissions, PermissionsMsg{Username: name, Permissions: perms})
		})
		return
	}

	if op != "add" && op != "remove" || len(args) < 3 {
		w.notify(p, "Usage: PERMISSION add|remove|list <user> [permission]")
		return
	}
	perm := args[2]
	if t := w.players.ByUsername(name); t != nil && t != p && !canActOn(p.Permissions, t.Permissions) {
		w.notify(p, "You cannot do that to "+t.Username)
		return
	}
	w.background("updating permissions", func(ctx context.Context) error {
		if op == "add" {
			return w.store.AddPermission(ctx, name, perm)
		}
		return w.store.RemovePermission(ctx, name, perm)
	}, func(err error) {
		actor := w.players.Get(actorID)
		if err != nil {
			w.notify(actor, fmt.Sprintf("Could not %s %s for %s", op, perm, name))
			return
		}
		if t := w.players.ByUsername(name); t != nil {
			if op == "add" {
				t.Permissions.Add(perm)
			} else {
				t.Permissions.Remove(perm)
			}
			t.Admin = t.Permissions.Admin()
			w.send(t, MsgPermissions, PermissionsMsg{Username: t.Username, Permissions: t.Permissions.List()})
		}
		w.audit.Record(storage.AuditPermission, usernameOf(actor), name, op+" "+perm)
		w.notify(actor, fmt.Sprintf("Permission %s: %s %s", op, name, perm))
	})
}

func (w *World) cmdRestart(p *Player, args []string) {
	if len(args) < 1 {
		w.notify(p, "Usage: RESTART <minutes>|cancel")
		return
	}
	if strings.EqualFold(args[0], "cancel") {
		if w.cancelRestart() {
			w.publish(bus.SubjectBroadcast, MsgBroadcast, NotifyMsg{Message: "Server restart cancelled"})
			w.audit.Record(storage.AuditRestart, p.Username, "", "cancel")
		} else {
			w.notify(p, "No restart is scheduled")
		}
		return
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil || minutes < 0 || minutes > 60 {
		w.notify(p, "Minutes must be between 0 and 60")
		return
	}
	w.scheduleRestart(minutes)
	w.audit.Record(storage.AuditRestart, p.Username, "", strconv.Itoa(minutes))
}

// scheduleRestart warns every restart unit and then disconnects everyone
func (w *World) scheduleRestart(minutes int) {
	w.cancelRestart()
	w.restartGen++
	gen := w.restartGen
	for i := 0; i <= minutes; i++ {
		remaining := minutes - i
		t := time.AfterFunc(time.Duration(i)*w.restartUnit, func() {
			w.Post(func() {
				if gen != w.restartGen {
					return
				}
				if remaining > 0 {
					w.publish(bus.SubjectBroadcast, MsgBroadcast, NotifyMsg{
						Message: fmt.Sprintf("Server restarting in %d minute(s)", remaining),
					})
					return
				}
				w.restartNow()
			})
		})
		w.restartTimers = append(w.restartTimers, t)
	}
}

// cancelRestart stops every pending restart timer
func (w *World) cancelRestart() bool {
	if len(w.restartTimers) == 0 {
		return false
	}
	for _, t := range w.restartTimers {
		t.Stop()
	}
	w.restartTimers = nil
	w.restartGen++
	return true
}

func (w *World) restartNow() {
	w.restartTimers = nil
	w.logger.Info("restart countdown finished, disconnecting everyone")
	for _, p := range w.players.List() {
		if p.client != nil {
			p.client.close(CloseNormal, "server restart")
		}
		w.removePlayer(p.SessionID, "server restart")
	}
	if w.hub != nil {
		w.hub.closeAll(CloseNormal, "server restart")
	}
}

func (w *World) cmdBroadcast(p *Player, args []string) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		w.notify(p, "Nothing to broadcast")
		return
	}
	w.publish(bus.SubjectBroadcast, MsgBroadcast, NotifyMsg{Message: text})
	w.audit.Record(storage.AuditBroadcast, p.Username, "", text)
}

// cmdWarp handles "map [x y]"; without coordinates the map centre is used
func (w *World) cmdWarp(p *Player, args []string) {
	if len(args) < 1 {
		w.notify(p, "Usage: WARP <map> [x y]")
		return
	}
	e, err := w.mapEntry(args[0])
	if err != nil {
		w.notify(p, "Unknown map "+args[0])
		return
	}
	pos := e.Center()
	if len(args) >= 3 {
		x, errX := strconv.ParseFloat(args[1], 64)
		y, errY := strconv.ParseFloat(args[2], 64)
		if errX != nil || errY != nil {
			w.notify(p, "Invalid coordinates")
			return
		}
		pos = collision.Position{X: x, Y: y}
	}
	w.audit.Record(storage.AuditWarp, p.Username, "", fmt.Sprintf("%s %.0f %.0f", e.Name, pos.X, pos.Y))
	w.changeMap(p, e.Name, pos)
}

// cmdReload drops cached map data and restarts the auth worker so both
// pick up edited reference data
func (w *World) cmdReload(p *Player) {
	w.maps.Clear()
	w.auth.Reload()
	w.notify(p, "Reference data reloaded")
}
