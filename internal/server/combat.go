package server

import (
	"context"
	"errors"
	"math"
	"time"

	"realm-server/internal/codec"
	"realm-server/internal/kv"
	"realm-server/internal/storage"
)

// Cast rejections, sent to the caster as notifications
var (
	errNoTarget      = errors.New("no target")
	errGuestTarget   = errors.New("guests cannot be targeted")
	errUnknownSpell  = errors.New("you do not know that spell")
	errOnCooldown    = errors.New("spell is on cooldown")
	errAlreadyCast   = errors.New("already casting")
	errNoMana        = errors.New("not enough stamina")
	errSelfDamage    = errors.New("you cannot attack yourself")
	errPartyDamage   = errors.New("you cannot attack a party member")
	errNotVisible    = errors.New("target is not visible")
	errNoPvP         = errors.New("pvp is not allowed here")
	errOutOfRange    = errors.New("target is out of range or sight")
	errDeadCombatant = errors.New("target cannot be affected right now")
)

// findTarget resolves a SPELL target by session id or username; empty means self
func (w *World) findTarget(p *Player, target string) *Player {
	if target == "" || target == p.SessionID {
		return p
	}
	if t := w.players.Get(target); t != nil {
		return t
	}
	return w.players.ByUsername(target)
}

// validateCast runs every pre-cast check against the live entries
func (w *World) validateCast(p *Player, msg SpellMsg) (*Player, kv.Spell, error) {
	target := w.findTarget(p, msg.Target)
	if target == nil {
		return nil, kv.Spell{}, errNoTarget
	}
	if target.Guest {
		return nil, kv.Spell{}, errGuestTarget
	}
	spell, ok := p.Spells[msg.Spell]
	if !ok {
		return nil, kv.Spell{}, errUnknownSpell
	}
	if until, ok := p.Cooldowns[spell.Name]; ok && time.Now().Before(until) {
		return nil, kv.Spell{}, errOnCooldown
	}
	if p.Casting {
		return nil, kv.Spell{}, errAlreadyCast
	}
	if p.Stats.Stamina < spell.Mana {
		return nil, kv.Spell{}, errNoMana
	}
	if p.Stats.Health <= 0 || target.Stats.Health <= 0 {
		return nil, kv.Spell{}, errDeadCombatant
	}

	harmful := spell.Type != kv.SpellHeal
	if harmful {
		if target == p {
			return nil, kv.Spell{}, errSelfDamage
		}
		if p.PartyID != "" && p.PartyID == target.PartyID {
			return nil, kv.Spell{}, errPartyDamage
		}
	}
	if target == p {
		return target, spell, nil
	}

	if target.Location.Map != p.Location.Map || !visibleTo(target, p) || !visibleTo(p, target) {
		return nil, kv.Spell{}, errNotVisible
	}
	if harmful && !w.pvpAllowed(p, target) {
		return nil, kv.Spell{}, errNoPvP
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !w.maps.HasLineOfSight(ctx, p.Location.Map, p.Location.X, p.Location.Y, target.Location.X, target.Location.Y, spell.Range) {
		return nil, kv.Spell{}, errOutOfRange
	}
	return target, spell, nil
}

// pvpAllowed checks the map's PvP toggle and both players' tiles
func (w *World) pvpAllowed(a, b *Player) bool {
	if !w.worldPvP(a.Location.Map) {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	size := w.playerSize()
	return w.maps.IsInPvPZone(ctx, a.Location.Map, a.Location.Position(), size) &&
		w.maps.IsInPvPZone(ctx, b.Location.Map, b.Location.Position(), size)
}

func (w *World) handleSpell(p *Player, pkt *codec.Packet) {
	var msg SpellMsg
	if err := pkt.Unmarshal(&msg); err != nil {
		return
	}
	target, spell, err := w.validateCast(p, msg)
	if err != nil {
		w.notify(p, err.Error())
		return
	}

	p.Casting = true
	p.castSeq++
	seq := p.castSeq
	w.broadcastFrom(p, MsgCastSpell, CastMsg{
		Caster:   p.SessionID,
		Target:   target.SessionID,
		Spell:    spell.Name,
		CastTime: spell.CastTime,
		Revision: w.nextRevision(),
	})

	id := p.SessionID
	w.after(p, time.Duration(spell.CastTime)*time.Millisecond, func() {
		w.finishCast(id, seq, msg)
	})
}

// finishCast runs after the cast time. The cast is dropped if it was
// interrupted; otherwise every check is repeated before costs are paid.
func (w *World) finishCast(id string, seq uint64, msg SpellMsg) {
	p := w.players.Get(id)
	if p == nil || !p.Casting || p.castSeq != seq {
		return
	}
	p.Casting = false

	target, spell, err := w.validateCast(p, msg)
	if err != nil {
		w.notify(p, err.Error())
		return
	}
	p.Stats.Stamina -= spell.Mana
	p.Cooldowns[spell.Name] = time.Now().Add(time.Duration(spell.Cooldown) * time.Millisecond)
	w.sendStats(p)

	targetID := target.SessionID
	w.after(p, w.travelDelay(p, target), func() {
		w.resolveSpell(id, targetID, spell)
	})
}

// travelDelay is the projectile flight time, capped
func (w *World) travelDelay(from, to *Player) time.Duration {
	if from == to || w.cfg.Combat.TravelSpeed <= 0 {
		return 0
	}
	dist := Distance(from.Location.X, from.Location.Y, to.Location.X, to.Location.Y)
	d := time.Duration(dist / w.cfg.Combat.TravelSpeed * float64(time.Second))
	return min(d, w.cfg.Combat.MaxTravelDelay)
}

// rollAmount scales a spell by the caster's level, applies its spread and
// rolls for a critical hit
func (w *World) rollAmount(spell kv.Spell, level int) (int, bool) {
	base := float64(spell.Damage) * (1 + float64(level-1)*w.cfg.Combat.LevelScaling)
	amount := base * (1 + spell.Spread*(2*w.rand.Float64()-1))
	crit := w.rand.Float64() < w.cfg.Combat.CritChance
	if crit {
		amount *= w.cfg.Combat.CritMultiplier
	}
	return max(int(math.Round(amount)), 0), crit
}

// resolveSpell applies a spell once it lands
func (w *World) resolveSpell(casterID, targetID string, spell kv.Spell) {
	caster := w.players.Get(casterID)
	target := w.players.Get(targetID)
	if caster == nil || target == nil || target.Location.Map != caster.Location.Map {
		return
	}
	if target.Stats.Health <= 0 {
		return
	}

	heal := spell.Type == kv.SpellHeal
	amount, crit := w.rollAmount(spell, caster.Stats.Level)
	if heal {
		target.Stats.Health = Clamp(target.Stats.Health+amount, 0, target.Stats.MaxHealth)
	} else {
		target.Stats.Health = Clamp(target.Stats.Health-amount, 0, target.Stats.MaxHealth)
	}

	w.broadcastMap(caster.Location.Map, MsgSpellResult, SpellResultMsg{
		Caster:   caster.SessionID,
		Target:   target.SessionID,
		Spell:    spell.Name,
		Amount:   amount,
		Heal:     heal,
		Crit:     crit,
		Revision: w.nextRevision(),
	}, nil)

	died := !heal && target.Stats.Health <= 0
	if died {
		w.kill(caster, target)
	}
	w.sendStats(target)

	friendly := heal && (target == caster || (caster.PartyID != "" && caster.PartyID == target.PartyID))
	if !friendly {
		now := time.Now()
		caster.PvP, caster.LastAttack = true, now
		if !died {
			target.PvP, target.LastAttack = true, now
		}
	}
}

// kill restores and respawns the target and rewards the killer
func (w *World) kill(killer, victim *Player) {
	w.stopMovement(victim)
	victim.Casting = false
	victim.Stats.Health = victim.Stats.MaxHealth
	victim.Stats.Stamina = victim.Stats.MaxStamina
	victim.PvP = false

	_, center := w.spawnPoint(victim.Location.Map)
	victim.Location.X, victim.Location.Y = center.X, center.Y
	w.broadcastMap(victim.Location.Map, MsgRevive, ReviveMsg{
		ID:       victim.SessionID,
		Map:      victim.Location.Map,
		X:        center.X,
		Y:        center.Y,
		Revision: w.nextRevision(),
	}, nil)

	if killer != victim {
		w.awardXP(killer, victim.Stats.Level*w.cfg.Combat.XPPerLevel)
	}
}

// awardXP adds experience and applies every level gained
func (w *World) awardXP(p *Player, xp int) {
	st := &p.Stats
	st.XP += xp
	for st.Level < storage.MaxLevel && st.MaxXP > 0 && st.XP >= st.MaxXP {
		st.XP -= st.MaxXP
		st.Level++
		st.MaxXP = storage.XPToNextLevel(st.Level)
		st.MaxHealth += 10
		st.MaxStamina += 10
		st.Health = st.MaxHealth
		st.Stamina = st.MaxStamina
		w.broadcastMap(p.Location.Map, MsgLevelUp, LevelUpMsg{ID: p.SessionID, Level: st.Level}, nil)
	}
	w.sendStats(p)
}

// sendStats shows a player's stats to its map
func (w *World) sendStats(p *Player) {
	w.broadcastFrom(p, MsgUpdateStats, StatsMsg{ID: p.SessionID, Stats: p.Stats})
}
