package server

import (
	"encoding/json"
	"sync"
	"time"

	"realm-server/internal/collision"
	"realm-server/internal/kv"
	"realm-server/internal/storage"
)

// Location is where a player stands
type Location struct {
	Map       string
	X         float64
	Y         float64
	Direction string
}

// Position returns the location as a collision point
func (l Location) Position() collision.Position {
	return collision.Position{X: l.X, Y: l.Y}
}

// InventoryItem is an inventory stack joined with its item definition
type InventoryItem struct {
	Item     kv.Item `json:"item" msgpack:"item"`
	Quantity int     `json:"quantity" msgpack:"quantity"`
}

// Invitation is a pending party invitation
type Invitation struct {
	From    string
	Expires time.Time
}

// movementLoop is the handle of one running movement goroutine
type movementLoop struct {
	stop chan struct{}
	once sync.Once
}

func newMovementLoop() *movementLoop {
	return &movementLoop{stop: make(chan struct{})}
}

func (m *movementLoop) cancel() {
	m.once.Do(func() { close(m.stop) })
}

// Player is the authoritative in-memory state of one connected player.
// It is owned by the world goroutine; other goroutines never touch it.
type Player struct {
	SessionID string
	UserID    int64
	Username  string

	Location Location
	Moving   bool

	Stats     storage.Stats
	Mounted   bool
	MountType string

	Stealth     bool
	Noclip      bool
	Admin       bool
	Guest       bool
	Permissions Permissions

	PartyID string

	Inventory    []InventoryItem
	Equipment    map[string]kv.Item
	Collectables []string
	Spells       map[string]kv.Spell
	Cooldowns    map[string]time.Time
	Friends      []string

	Casting           bool
	CastInterruptedAt time.Time
	castSeq           uint64

	LastActivity time.Time
	LastAttack   time.Time
	PvP          bool

	Invitations  []Invitation
	ClientConfig json.RawMessage
	Language     string

	client   *Client
	movement *movementLoop
	timers   map[uint64]*time.Timer
	timerSeq uint64
}

// Snapshot returns the public view of the player
func (p *Player) Snapshot() PlayerSnapshot {
	var equipment map[string]string
	if len(p.Equipment) > 0 {
		equipment = make(map[string]string, len(p.Equipment))
		for slot, it := range p.Equipment {
			equipment[slot] = it.Name
		}
	}
	return PlayerSnapshot{
		ID:        p.SessionID,
		Username:  p.Username,
		Map:       p.Location.Map,
		X:         p.Location.X,
		Y:         p.Location.Y,
		Direction: p.Location.Direction,
		Moving:    p.Moving,
		Stats:     p.Stats,
		Mounted:   p.Mounted,
		MountType: p.MountType,
		Stealth:   p.Stealth,
		Admin:     p.Admin,
		Guest:     p.Guest,
		PartyID:   p.PartyID,
		Equipment: equipment,
	}
}

// valid reports whether the entry carries the fields needed to persist it
func (p *Player) valid() bool {
	return p.SessionID != "" && p.Username != "" && p.Location.Map != "" && p.Stats.MaxHealth > 0
}

// stopTimers cancels the movement loop and every pending timer
func (p *Player) stopTimers() {
	if p.movement != nil {
		p.movement.cancel()
		p.movement = nil
	}
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.Moving = false
	p.Casting = false
}
