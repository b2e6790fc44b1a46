package collision

import (
	"context"
	"errors"
	"math"
)

// Line returns the tiles visited by Bresenham's algorithm from (x0,y0) to
// (x1,y1), both ends included.
func Line(x0, y0, x1, y1 int) []Tile {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	tiles := make([]Tile, 0, max(dx, -dy)+1)
	err := dx + dy
	x, y := x0, y0
	for {
		tiles = append(tiles, Tile{X: x, Y: y})
		if x == x1 && y == y1 {
			return tiles
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// HasLineOfSight reports whether two pixel positions are within maxDistance
// and no blocking tile lies on the straight tile path between them.
func (e *Entry) HasLineOfSight(x1, y1, x2, y2, maxDistance float64) bool {
	if math.Hypot(x2-x1, y2-y1) > maxDistance {
		return false
	}
	if len(e.Collision) <= rleHeader {
		return true
	}
	tw, th := float64(e.TileWidth), float64(e.TileHeight)
	x0, y0 := int(math.Floor(x1/tw)), int(math.Floor(y1/th))
	xe, ye := int(math.Floor(x2/tw)), int(math.Floor(y2/th))

	// Walk inline rather than through Line to stop at the first hit.
	dx := abs(xe - x0)
	dy := -abs(ye - y0)
	sx, sy := 1, 1
	if x0 > xe {
		sx = -1
	}
	if y0 > ye {
		sy = -1
	}
	err := dx + dy
	x, y := x0, y0
	for {
		if e.Blocked(x, y) {
			return false
		}
		if x == xe && y == ye {
			return true
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// HasLineOfSight resolves a map and checks sight between two points. Unknown
// maps and store failures deny sight.
func (c *Cache) HasLineOfSight(ctx context.Context, mapName string, x1, y1, x2, y2, maxDistance float64) bool {
	e, err := c.Entry(ctx, mapName)
	if err != nil {
		if !errors.Is(err, ErrNoMapData) {
			c.logger.Warn("line of sight lookup failed", "map", mapName, "err", err)
		}
		return false
	}
	return e.HasLineOfSight(x1, y1, x2, y2, maxDistance)
}
