package collision

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"realm-server/internal/kv"
)

func TestQueryRLEExample(t *testing.T) {
	rle := []int{4, 1, 0, 2, 1, 2}
	want := []int{0, 0, 1, 1}
	for i, w := range want {
		if got := QueryRLE(rle, i); got != w {
			t.Errorf("QueryRLE(%d) = %d, want %d", i, got, w)
		}
	}
}

func TestRLERoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		w := 1 + rng.Intn(20)
		h := 1 + rng.Intn(20)
		grid := make([]int, w*h)
		for i := range grid {
			// long runs are the common case in real maps
			if rng.Intn(4) == 0 {
				grid[i] = rng.Intn(3)
			} else if i > 0 {
				grid[i] = grid[i-1]
			}
		}
		rle := EncodeRLE(w, h, grid)
		for i, v := range grid {
			if got := QueryRLE(rle, i); got != v {
				t.Fatalf("trial %d: index %d = %d, want %d", trial, i, got, v)
			}
		}
		decoded := DecodeRLE(rle)
		if len(decoded) != len(grid) {
			t.Fatalf("decoded %d tiles, want %d", len(decoded), len(grid))
		}
	}
}

func TestQueryRLEOutOfRange(t *testing.T) {
	if v := QueryRLE([]int{2, 1, 1, 2}, 5); v != 0 {
		t.Errorf("past end = %d, want 0", v)
	}
	if v := QueryRLE(nil, 0); v != 0 {
		t.Errorf("empty = %d, want 0", v)
	}
}

func exampleEntry() *Entry {
	return newEntry(&MapData{
		Name:       "strip",
		Width:      4,
		Height:     1,
		TileWidth:  32,
		TileHeight: 32,
		Collision:  []int{4, 1, 0, 2, 1, 2},
	})
}

func TestCollideTileExample(t *testing.T) {
	e := exampleEntry()
	size := Size{Width: 16, Height: 16}

	// centred in tile 0
	if res := e.Collide(Position{X: 16, Y: 16}, size); res.Value {
		t.Fatalf("start position collides: %+v", res)
	}

	// step right until blocked
	var res Result
	for x := 16.0; x < 128; x += 2.5 {
		res = e.Collide(Position{X: x, Y: 16}, size)
		if res.Value {
			break
		}
	}
	if res.Reason != ReasonTile {
		t.Fatalf("reason = %s, want %s", res.Reason, ReasonTile)
	}
	if res.Tile == nil || res.Tile.X != 2 || res.Tile.Y != 0 {
		t.Fatalf("tile = %+v, want {2 0}", res.Tile)
	}
}

func TestCollideEdgeMargin(t *testing.T) {
	e := exampleEntry()
	// right edge sits exactly on the boundary of tile 2
	res := e.Collide(Position{X: 56, Y: 16}, Size{Width: 16, Height: 16})
	if res.Value {
		t.Errorf("box touching the edge should not collide: %+v", res)
	}
}

func TestCollideWarpFirst(t *testing.T) {
	e := exampleEntry()
	e.Warps = map[string]Warp{
		"door": {Name: "door", Position: Position{X: 60, Y: 0}, Size: Size{Width: 10, Height: 32}, Map: "cave", Destination: Position{X: 5, Y: 5}},
	}
	res := e.Collide(Position{X: 60, Y: 16}, Size{Width: 16, Height: 16})
	if res.Reason != ReasonWarp {
		t.Fatalf("reason = %s, want warp", res.Reason)
	}
	if res.Warp.Map != "cave" {
		t.Errorf("warp map = %q", res.Warp.Map)
	}
}

func TestCollideMapEdge(t *testing.T) {
	e := exampleEntry()
	res := e.Collide(Position{X: 2, Y: 16}, Size{Width: 16, Height: 16})
	if res.Reason != ReasonTile || res.Tile.X != -1 {
		t.Errorf("expected edge collision at x=-1, got %+v", res)
	}
}

func TestCollideNoCollisionData(t *testing.T) {
	e := newEntry(&MapData{Name: "empty", Width: 4, Height: 4})
	res := e.Collide(Position{X: 40, Y: 40}, Size{Width: 8, Height: 8})
	if !res.Value || res.Reason != ReasonNoCollisionData {
		t.Errorf("got %+v", res)
	}
}

type failingStore struct{ kv.Store }

func (failingStore) GetNested(ctx context.Context, key, field string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestCacheReasons(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	c := NewCache(store, nil)
	size := Size{Width: 16, Height: 16}

	if res := c.CheckIfWouldCollide(ctx, "missing", Position{}, size); res.Reason != ReasonNoMapData || !res.Value {
		t.Errorf("missing map: %+v", res)
	}
	if !c.IsInPvPZone(ctx, "missing", Position{}, size) {
		t.Error("missing map should allow pvp")
	}

	broken := NewCache(failingStore{store}, nil)
	if res := broken.CheckIfWouldCollide(ctx, "main", Position{}, size); res.Reason != ReasonStoreError || !res.Value {
		t.Errorf("store failure: %+v", res)
	}
	if broken.IsInPvPZone(ctx, "main", Position{}, size) {
		t.Error("store failure should deny pvp")
	}
}

func TestCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	c := NewCache(kv.NewMemory(), nil)
	md := &MapData{Name: "strip", Width: 4, Height: 1, TileWidth: 32, TileHeight: 32, Collision: []int{4, 1, 0, 4}}
	if err := c.Put(ctx, md); err != nil {
		t.Fatal(err)
	}
	pos := Position{X: 80, Y: 16}
	size := Size{Width: 16, Height: 16}
	if res := c.CheckIfWouldCollide(ctx, "strip", pos, size); res.Value {
		t.Fatalf("open strip collides: %+v", res)
	}

	// edit tiles without clearing: stale cache keeps old answer
	md.Collision = []int{4, 1, 0, 2, 1, 2}
	kv.SetNestedJSON(ctx, c.store, kv.KeyMaps, "strip", md)
	if res := c.CheckIfWouldCollide(ctx, "strip", pos, size); res.Value {
		t.Fatal("cache should still hold the old grid")
	}
	c.Clear("strip")
	if res := c.CheckIfWouldCollide(ctx, "strip", pos, size); !res.Value {
		t.Fatal("cleared cache should see the new wall")
	}
}

func TestInPvPZone(t *testing.T) {
	md := DefaultMap("main")
	e := newEntry(md)
	size := Size{Width: 16, Height: 24}
	if e.InPvPZone(e.Center(), size) {
		t.Error("map centre is a safe zone")
	}
	if !e.InPvPZone(Position{X: 100, Y: 100}, size) {
		t.Error("corner area should allow pvp")
	}
}

func openGrid(w, h int) *Entry {
	return newEntry(&MapData{
		Name:       "open",
		Width:      w,
		Height:     h,
		TileWidth:  10,
		TileHeight: 10,
		Collision:  EncodeRLE(w, h, make([]int, w*h)),
	})
}

func TestLineOfSightClearPath(t *testing.T) {
	e := openGrid(20, 20)
	if !e.HasLineOfSight(15, 15, 185, 105, 500) {
		t.Error("open grid should have sight")
	}
	if e.HasLineOfSight(15, 15, 185, 105, 50) {
		t.Error("beyond max distance should fail")
	}
}

func TestLineOfSightBlockedAnywhereOnPath(t *testing.T) {
	const w, h = 20, 20
	x1, y1, x2, y2 := 15.0, 25.0, 175.0, 135.0
	path := Line(1, 2, 17, 13)
	for _, blocked := range path {
		grid := make([]int, w*h)
		grid[blocked.Y*w+blocked.X] = 1
		e := newEntry(&MapData{Width: w, Height: h, TileWidth: 10, TileHeight: 10, Collision: EncodeRLE(w, h, grid)})
		if e.HasLineOfSight(x1, y1, x2, y2, 1000) {
			t.Errorf("wall at %+v did not block sight", blocked)
		}
	}
}

func TestLineEndpointsIncluded(t *testing.T) {
	tiles := Line(3, 3, 0, 1)
	if tiles[0] != (Tile{3, 3}) || tiles[len(tiles)-1] != (Tile{0, 1}) {
		t.Errorf("line = %v", tiles)
	}
	if got := Line(2, 2, 2, 2); len(got) != 1 {
		t.Errorf("single point line = %v", got)
	}
}
