package collision

import (
	"context"
	"errors"
	"math"
)

// Reason explains a collision result
type Reason string

const (
	ReasonNoMapData       Reason = "no_map_data"
	ReasonNoCollisionData Reason = "no_collision_data"
	ReasonStoreError      Reason = "redis_error"
	ReasonWarp            Reason = "warp_collision"
	ReasonTile            Reason = "tile_collision"
	ReasonNone            Reason = "no_collision"
)

// edgeMargin shrinks boxes so a player standing exactly on a tile edge does
// not flicker between the two tiles.
const edgeMargin = 0.1

// Tile is a grid coordinate
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Result is the outcome of a collision check. Value is true when the move
// must not be committed.
type Result struct {
	Value  bool   `json:"value"`
	Reason Reason `json:"reason"`
	Tile   *Tile  `json:"tile,omitempty"`
	Warp   *Warp  `json:"warp,omitempty"`
}

type tileRange struct {
	minX, minY, maxX, maxY int
}

type box struct {
	left, top, right, bottom float64
}

func boxAt(pos Position, size Size) box {
	return box{
		left:   pos.X - size.Width/2 + edgeMargin,
		top:    pos.Y - size.Height/2 + edgeMargin,
		right:  pos.X + size.Width/2 - edgeMargin,
		bottom: pos.Y + size.Height/2 - edgeMargin,
	}
}

func (e *Entry) tilesFor(b box) tileRange {
	tw, th := float64(e.TileWidth), float64(e.TileHeight)
	return tileRange{
		minX: int(math.Floor(b.left / tw)),
		minY: int(math.Floor(b.top / th)),
		maxX: int(math.Floor(b.right / tw)),
		maxY: int(math.Floor(b.bottom / th)),
	}
}

func (e *Entry) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < e.GridWidth && y < e.GridHeight
}

// Blocked reports whether the tile at (x, y) blocks movement and sight.
// Tiles outside the grid are the map edge and always block.
func (e *Entry) Blocked(x, y int) bool {
	if !e.inBounds(x, y) {
		return true
	}
	return QueryRLE(e.Collision, y*e.GridWidth+x) != 0
}

func (e *Entry) noPvP(x, y int) bool {
	if !e.inBounds(x, y) {
		return false
	}
	return QueryRLE(e.NoPvP, y*e.GridWidth+x) != 0
}

func overlaps(b box, w Warp) bool {
	return b.left < w.Position.X+w.Size.Width &&
		b.right > w.Position.X &&
		b.top < w.Position.Y+w.Size.Height &&
		b.bottom > w.Position.Y
}

// Collide tests a centre-anchored box against the warps and then every
// covered tile.
func (e *Entry) Collide(pos Position, size Size) Result {
	b := boxAt(pos, size)
	for _, w := range e.Warps {
		if overlaps(b, w) {
			warp := w
			return Result{Value: true, Reason: ReasonWarp, Warp: &warp}
		}
	}
	if len(e.Collision) <= rleHeader {
		return Result{Value: true, Reason: ReasonNoCollisionData}
	}
	r := e.tilesFor(b)
	for y := r.minY; y <= r.maxY; y++ {
		for x := r.minX; x <= r.maxX; x++ {
			if e.Blocked(x, y) {
				return Result{Value: true, Reason: ReasonTile, Tile: &Tile{X: x, Y: y}}
			}
		}
	}
	return Result{Value: false, Reason: ReasonNone}
}

// InPvPZone reports whether combat is allowed for a box; true unless a
// covered tile is flagged in the no-PvP grid.
func (e *Entry) InPvPZone(pos Position, size Size) bool {
	if len(e.NoPvP) <= rleHeader {
		return true
	}
	r := e.tilesFor(boxAt(pos, size))
	for y := r.minY; y <= r.maxY; y++ {
		for x := r.minX; x <= r.maxX; x++ {
			if e.noPvP(x, y) {
				return false
			}
		}
	}
	return true
}

// CheckIfWouldCollide resolves a map and tests the box against it. Missing
// data and store failures all block movement.
func (c *Cache) CheckIfWouldCollide(ctx context.Context, mapName string, pos Position, size Size) Result {
	e, err := c.Entry(ctx, mapName)
	if err != nil {
		if errors.Is(err, ErrNoMapData) {
			return Result{Value: true, Reason: ReasonNoMapData}
		}
		c.logger.Warn("collision lookup failed", "map", mapName, "err", err)
		return Result{Value: true, Reason: ReasonStoreError}
	}
	return e.Collide(pos, size)
}

// IsInPvPZone resolves a map and tests the box against its no-PvP grid.
// A map that genuinely has no data allows PvP; a store failure does not.
func (c *Cache) IsInPvPZone(ctx context.Context, mapName string, pos Position, size Size) bool {
	e, err := c.Entry(ctx, mapName)
	if err != nil {
		if errors.Is(err, ErrNoMapData) {
			return true
		}
		c.logger.Warn("pvp zone lookup failed", "map", mapName, "err", err)
		return false
	}
	return e.InPvPZone(pos, size)
}
