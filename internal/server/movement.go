package server

import (
	"context"
	"math"
	"time"

	"realm-server/internal/codec"
	"realm-server/internal/collision"
)

const moveAbort = "abort"

// directions maps a MOVEXY direction to a unit step
var directions = map[string][2]float64{
	"up":        {0, -1},
	"down":      {0, 1},
	"left":      {-1, 0},
	"right":     {1, 0},
	"upleft":    {-1, -1},
	"upright":   {1, -1},
	"downleft":  {-1, 1},
	"downright": {1, 1},
}

func (w *World) handleMove(p *Player, pkt *codec.Packet) {
	var dir string
	if err := pkt.Unmarshal(&dir); err != nil {
		return
	}
	if dir == moveAbort {
		if p.Moving {
			w.stopMovement(p)
			w.broadcastPosition(p)
		}
		return
	}
	vec, ok := directions[dir]
	if !ok {
		return
	}
	w.startMovement(p, dir, vec)
}

// startMovement replaces any running loop with a new one heading in dir.
// Moving interrupts a cast.
func (w *World) startMovement(p *Player, dir string, vec [2]float64) {
	w.stopMovement(p)
	if p.Casting {
		p.Casting = false
		p.CastInterruptedAt = time.Now()
	}
	p.Location.Direction = dir
	p.Moving = true
	loop := newMovementLoop()
	p.movement = loop
	w.activeLoops.Add(1)
	w.metrics.MovementLoops.Inc()
	go w.runMovement(p.SessionID, loop, vec)
}

// stopMovement cancels the player's loop, if any
func (w *World) stopMovement(p *Player) {
	if p.movement != nil {
		p.movement.cancel()
		p.movement = nil
	}
	p.Moving = false
}

// runMovement ticks at the movement frame time and posts one step per tick
// until the loop is cancelled. The caller has already counted it as active.
func (w *World) runMovement(id string, loop *movementLoop, vec [2]float64) {
	defer func() {
		w.activeLoops.Add(-1)
		w.metrics.MovementLoops.Dec()
	}()

	t := time.NewTicker(w.cfg.Movement.FrameTime)
	defer t.Stop()
	for {
		select {
		case <-loop.stop:
			return
		case <-w.done:
			return
		case <-t.C:
			w.Post(func() { w.stepMovement(id, loop, vec) })
		}
	}
}

// stepOffset is the distance covered in one frame
func (w *World) stepOffset(p *Player, vec [2]float64) (float64, float64) {
	speed := w.cfg.Movement.Speed * w.cfg.Movement.FrameTime.Seconds()
	if p.Mounted {
		speed *= w.cfg.Movement.MountMultiplier
	}
	if vec[0] != 0 && vec[1] != 0 {
		speed /= math.Sqrt2
	}
	return vec[0] * speed, vec[1] * speed
}

func (w *World) stepMovement(id string, loop *movementLoop, vec [2]float64) {
	p := w.players.Get(id)
	if p == nil || p.movement != loop {
		loop.cancel()
		return
	}
	dx, dy := w.stepOffset(p, vec)
	next := collision.Position{X: p.Location.X + dx, Y: p.Location.Y + dy}

	if !p.Noclip {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		res := w.maps.CheckIfWouldCollide(ctx, p.Location.Map, next, w.playerSize())
		cancel()
		if res.Value {
			w.stopMovement(p)
			w.broadcastPosition(p)
			if res.Reason == collision.ReasonWarp && res.Warp != nil {
				w.enterWarp(p, res.Warp)
			}
			return
		}
	}

	p.Location.X, p.Location.Y = next.X, next.Y
	w.broadcastPosition(p)
}

// broadcastPosition sends the player's position with a fresh revision
func (w *World) broadcastPosition(p *Player) {
	w.broadcastFrom(p, MsgMoveXY, MoveMsg{
		ID:        p.SessionID,
		X:         p.Location.X,
		Y:         p.Location.Y,
		Direction: p.Location.Direction,
		Moving:    p.Moving,
		Revision:  w.nextRevision(),
	})
}

// enterWarp moves p to a warp's destination, checking it exists first
func (w *World) enterWarp(p *Player, warp *collision.Warp) {
	dest := warp.Map
	if dest == "" {
		dest = p.Location.Map
	}
	if !w.knownMap(dest) {
		w.logger.Warn("warp to unknown map", "session", p.SessionID, "warp", warp.Name, "map", dest)
		return
	}
	w.changeMap(p, dest, warp.Destination)
}
