package server

import (
	"context"
	"encoding/json"
	"testing"

	"realm-server/internal/codec"
	"realm-server/internal/collision"
	"realm-server/internal/config"
)

func moveTo(t *testing.T, dir string) *codec.Packet {
	t.Helper()
	raw, err := json.Marshal(dir)
	if err != nil {
		t.Fatal(err)
	}
	return &codec.Packet{Type: MsgMoveXY, Data: raw}
}

func TestSingleMovementLoopPerPlayer(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	p := addPlayer(t, s, "alice", 400, 400)

	w.Do(func() {
		w.handleMove(p, moveTo(t, "right"))
		w.handleMove(p, moveTo(t, "down"))
	})
	waitFor(t, "one active loop", func() bool { return w.activeLoops.Load() == 1 })

	var x, y float64
	waitFor(t, "movement", func() bool {
		w.Do(func() { x, y = p.Location.X, p.Location.Y })
		return y > 400
	})
	if x < 400 {
		t.Errorf("x = %v moved backwards", x)
	}

	w.Do(func() { w.handleMove(p, moveTo(t, moveAbort)) })
	waitFor(t, "loops to stop", func() bool { return w.activeLoops.Load() == 0 })

	var moving bool
	w.Do(func() { moving = p.Moving })
	if moving {
		t.Error("player still moving after abort")
	}
}

func TestUnknownDirectionIgnored(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	p := addPlayer(t, s, "alice", 400, 400)

	w.Do(func() { w.handleMove(p, moveTo(t, "sideways")) })
	var moving bool
	w.Do(func() { moving = p.Moving })
	if moving || w.activeLoops.Load() != 0 {
		t.Error("unknown direction started movement")
	}
}

func TestMovementStopsAtWall(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Movement.Speed = 2000 })
	w := s.world
	// one tile from the left border
	p := addPlayer(t, s, "alice", 60, 400)

	w.Do(func() { w.handleMove(p, moveTo(t, "left")) })
	waitFor(t, "collision stop", func() bool {
		var moving bool
		w.Do(func() { moving = p.Moving })
		return !moving
	})
	var x float64
	w.Do(func() { x = p.Location.X })
	if x < 32 {
		t.Errorf("x = %v, walked into the border", x)
	}
	waitFor(t, "loop exit", func() bool { return w.activeLoops.Load() == 0 })
}

func TestStepOffset(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	p := &Player{}

	dx, dy := w.stepOffset(p, directions["right"])
	want := w.cfg.Movement.Speed * w.cfg.Movement.FrameTime.Seconds()
	if dx != want || dy != 0 {
		t.Errorf("right = %v,%v, want %v,0", dx, dy, want)
	}

	dx, dy = w.stepOffset(p, directions["downright"])
	if got := (collision.Position{X: dx, Y: dy}); Distance(0, 0, got.X, got.Y)-want > 1e-9 {
		t.Errorf("diagonal step %v longer than straight step %v", got, want)
	}

	p.Mounted = true
	dx, _ = w.stepOffset(p, directions["right"])
	if dx <= want {
		t.Errorf("mounted step %v not faster than %v", dx, want)
	}
}

func TestWarpMovesToAnotherMap(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	ctx := context.Background()
	start := collision.DefaultMap(w.cfg.World.DefaultMap)
	start.Warps["gate"] = collision.Warp{
		Name:        "gate",
		Position:    collision.Position{X: 700, Y: 370},
		Size:        collision.Size{Width: 64, Height: 60},
		Map:         "dungeon",
		Destination: collision.Position{X: 500, Y: 500},
	}
	for _, md := range []*collision.MapData{start, collision.DefaultMap("dungeon")} {
		if err := w.maps.Put(ctx, md); err != nil {
			t.Fatal(err)
		}
	}
	p := addPlayer(t, s, "alice", 650, 400)

	w.Do(func() { w.handleMove(p, moveTo(t, "right")) })
	waitFor(t, "reconnect", p.client.isClosed)

	var mapName string
	var moving bool
	w.Do(func() { mapName, moving = p.Location.Map, p.Moving })
	if mapName != "dungeon" || moving {
		t.Errorf("map = %q moving = %v, want dungeon and stopped", mapName, moving)
	}
	if got := ofType(drain(t, w, p.client), MsgReconnect); len(got) != 1 {
		t.Errorf("RECONNECT packets = %d, want 1", len(got))
	}
	rec, err := w.store.LoadLoginPayload(ctx, p.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if loc := rec.Location; loc == nil || loc.Map != "dungeon" || loc.X != 500 || loc.Y != 500 {
		t.Errorf("stored location = %+v", loc)
	}
}
