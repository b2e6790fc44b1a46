package collision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"realm-server/internal/kv"
)

// ErrNoMapData is returned when a map is not present in the store.
var ErrNoMapData = errors.New("collision: no map data")

// Position is a point in pixels
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair in pixels
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Warp is a rectangular trigger that moves a player to another map.
// Position is the rectangle's top-left corner.
type Warp struct {
	Name        string   `json:"name"`
	Position    Position `json:"position"`
	Size        Size     `json:"size"`
	Map         string   `json:"map"`
	Destination Position `json:"destination"`
}

// MapData is the per-map document held in the kv store under "maps".
type MapData struct {
	Name       string          `json:"name"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	TileWidth  int             `json:"tilewidth"`
	TileHeight int             `json:"tileheight"`
	Collision  []int           `json:"collision,omitempty"`
	NoPvP      []int           `json:"nopvp,omitempty"`
	Warps      map[string]Warp `json:"warps,omitempty"`
}

// Entry is the cached collision view of one map.
type Entry struct {
	Name       string
	TileWidth  int
	TileHeight int
	GridWidth  int
	GridHeight int
	Collision  []int
	NoPvP      []int
	Warps      map[string]Warp
}

// Center returns the pixel centre of the map.
func (e *Entry) Center() Position {
	return Position{
		X: float64(e.GridWidth*e.TileWidth) / 2,
		Y: float64(e.GridHeight*e.TileHeight) / 2,
	}
}

func newEntry(md *MapData) *Entry {
	e := &Entry{
		Name:       md.Name,
		TileWidth:  md.TileWidth,
		TileHeight: md.TileHeight,
		GridWidth:  md.Width,
		GridHeight: md.Height,
		Collision:  md.Collision,
		NoPvP:      md.NoPvP,
		Warps:      md.Warps,
	}
	if w, h, ok := RLEDimensions(md.Collision); ok {
		e.GridWidth, e.GridHeight = w, h
	}
	if e.TileWidth <= 0 {
		e.TileWidth = 32
	}
	if e.TileHeight <= 0 {
		e.TileHeight = 32
	}
	return e
}

// Cache loads map data lazily and memoises it until Clear is called.
type Cache struct {
	store  kv.Store
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewCache creates a collision cache backed by the kv store
func NewCache(store kv.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:   store,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// Entry returns the cached entry for a map, building it on first use.
// It returns ErrNoMapData when the map does not exist; any other error
// comes from the store.
func (c *Cache) Entry(ctx context.Context, name string) (*Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	var md MapData
	if err := kv.GetNestedJSON(ctx, c.store, kv.KeyMaps, name, &md); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNoMapData
		}
		return nil, fmt.Errorf("loading map %s: %w", name, err)
	}
	if md.Name == "" {
		md.Name = name
	}
	e = newEntry(&md)

	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()
	c.logger.Debug("collision map cached", "map", name, "width", e.GridWidth, "height", e.GridHeight, "warps", len(e.Warps))
	return e, nil
}

// Clear drops the cached entry for the named maps, or every entry when no
// name is given. The map editor calls this after any tile write.
func (c *Cache) Clear(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		c.entries = make(map[string]*Entry)
		return
	}
	for _, n := range names {
		delete(c.entries, n)
	}
}

// Put stores map data and invalidates its cached entry.
func (c *Cache) Put(ctx context.Context, md *MapData) error {
	if err := kv.SetNestedJSON(ctx, c.store, kv.KeyMaps, md.Name, md); err != nil {
		return err
	}
	c.Clear(md.Name)
	return nil
}
