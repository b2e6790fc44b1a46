package server

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"

	"realm-server/internal/bus"
	"realm-server/internal/codec"
	"realm-server/internal/collision"
	"realm-server/internal/config"
	"realm-server/internal/kv"
	"realm-server/internal/storage"
)

const (
	commandQueueSize = 4096
	persistTimeout   = 10 * time.Second
)

// pendingAuth is an AUTH request waiting for the worker's reply
type pendingAuth struct {
	client   *Client
	language string
	started  time.Time
}

// worldCount is the document kept per world under kv.KeyWorlds
type worldCount struct {
	Players int `json:"players"`
}

// mapProperties is the per-map document under kv.KeyMapProperties
type mapProperties struct {
	PvP bool `json:"pvp"`
}

// World owns every piece of game state. All mutation happens on the
// goroutine running Run; read pumps, timers, movement loops and tick loops
// reach it through Post and Do.
type World struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.Store
	kv      kv.Store
	maps    *collision.Cache
	codec   *codec.Codec
	bus     *bus.Bus
	metrics *Metrics
	audit   *storage.Audit
	filter  ChatFilter
	matcher language.Matcher
	limiter *RateLimiter
	hub     *Hub
	auth    *authWorker

	players *Players
	pending map[string]*pendingAuth
	parties map[string]*Party

	revision    atomic.Uint64
	activeLoops atomic.Int64

	restartTimers []*time.Timer
	restartGen    uint64
	restartUnit   time.Duration

	rand *rand.Rand

	cmds    chan func()
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// Run executes posted commands until ctx is cancelled
func (w *World) Run(ctx context.Context) error {
	defer w.stopped.Do(func() { close(w.done) })
	for {
		select {
		case fn := <-w.cmds:
			fn()
		case <-ctx.Done():
			return nil
		}
	}
}

// Post queues fn for the world goroutine. It must not be called from the
// world goroutine itself.
func (w *World) Post(fn func()) {
	select {
	case w.cmds <- fn:
	case <-w.done:
	}
}

// Do runs fn on the world goroutine and waits for it to finish
func (w *World) Do(fn func()) {
	finished := make(chan struct{})
	w.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
	case <-w.done:
	}
}

// Wait blocks until background persistence has finished
func (w *World) Wait() {
	w.wg.Wait()
}

func (w *World) nextRevision() uint64 {
	return w.revision.Add(1)
}

// after runs fn on the world goroutine once d has elapsed, unless the
// player's timers are stopped first.
func (w *World) after(p *Player, d time.Duration, fn func()) {
	if p.timers == nil {
		p.timers = make(map[uint64]*time.Timer)
	}
	p.timerSeq++
	id := p.timerSeq
	p.timers[id] = time.AfterFunc(d, func() {
		w.Post(func() {
			if _, ok := p.timers[id]; !ok {
				return
			}
			delete(p.timers, id)
			fn()
		})
	})
}

// background runs a persistence call off the world goroutine. then, if
// set, is posted back with the call's error.
func (w *World) background(what string, fn func(ctx context.Context) error, then func(err error)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := fn(ctx)
		cancel()
		if err != nil {
			w.logger.Error(what+" failed", "err", err)
		}
		if then != nil {
			w.Post(func() { then(err) })
		}
	}()
}

// frame marshals and encodes a packet
func (w *World) frame(typ string, data any) []byte {
	payload, err := codec.Marshal(typ, data)
	if err != nil {
		w.logger.Error("marshal packet", "type", typ, "err", err)
		return nil
	}
	return w.codec.Encode(payload)
}

// send delivers a packet to one player
func (w *World) send(p *Player, typ string, data any) {
	if p == nil || p.client == nil {
		return
	}
	p.client.SendPacket(typ, data)
}

// notify sends a user-facing notice
func (w *World) notify(p *Player, msg string) {
	w.send(p, MsgNotify, NotifyMsg{Message: msg})
}

// broadcastMap sends one encoded frame to every player on a map except skip
func (w *World) broadcastMap(mapName, typ string, data any, skip *Player) {
	frame := w.frame(typ, data)
	if frame == nil {
		return
	}
	exempt := exemptTypes[typ]
	for _, p := range w.players.OnMap(mapName) {
		if p == skip || p.client == nil {
			continue
		}
		p.client.Send(frame, exempt)
	}
}

// broadcastFrom sends a packet about p to everyone on its map who can see p
func (w *World) broadcastFrom(p *Player, typ string, data any) {
	frame := w.frame(typ, data)
	if frame == nil {
		return
	}
	exempt := exemptTypes[typ]
	for _, o := range w.players.OnMap(p.Location.Map) {
		if o.client == nil || !visibleTo(p, o) {
			continue
		}
		o.client.Send(frame, exempt)
	}
}

// publish sends a packet to every connection through the bus
func (w *World) publish(subject, typ string, data any) {
	payload, err := codec.Marshal(typ, data)
	if err != nil {
		w.logger.Error("marshal packet", "type", typ, "err", err)
		return
	}
	if err := w.bus.Publish(subject, payload); err != nil {
		w.logger.Warn("bus publish failed", "subject", subject, "err", err)
	}
}

// visibleTo reports whether viewer can see p
func visibleTo(p, viewer *Player) bool {
	return !p.Stealth || viewer.Admin || viewer == p
}

// negotiate picks the closest supported language for a client tag
func (w *World) negotiate(requested string) string {
	tag, _ := language.MatchStrings(w.matcher, requested)
	base, _ := tag.Base()
	return base.String()
}

// adjustWorldCount moves the world's player count in the kv store
func (w *World) adjustWorldCount(delta int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var wc worldCount
	err := kv.GetNestedJSON(ctx, w.kv, kv.KeyWorlds, w.cfg.World.Name, &wc)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		w.logger.Warn("reading world count", "err", err)
		return
	}
	wc.Players += delta
	if wc.Players < 0 {
		wc.Players = 0
	}
	if err := kv.SetNestedJSON(ctx, w.kv, kv.KeyWorlds, w.cfg.World.Name, wc); err != nil {
		w.logger.Warn("writing world count", "err", err)
	}
}

// worldPvP reports whether the map allows combat at all. Maps without
// properties allow it; a store failure does not.
func (w *World) worldPvP(mapName string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var props mapProperties
	err := kv.GetNestedJSON(ctx, w.kv, kv.KeyMapProperties, mapName, &props)
	switch {
	case err == nil:
		return props.PvP
	case errors.Is(err, kv.ErrNotFound):
		return true
	default:
		w.logger.Warn("map properties lookup failed", "map", mapName, "err", err)
		return false
	}
}

func (w *World) playerSize() collision.Size {
	return collision.Size{Width: w.cfg.Movement.PlayerWidth, Height: w.cfg.Movement.PlayerHeight}
}

// spawnPoint returns the centre of a map, falling back to the default map
func (w *World) spawnPoint(mapName string) (string, collision.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if e, err := w.maps.Entry(ctx, mapName); err == nil {
		return mapName, e.Center()
	}
	if e, err := w.maps.Entry(ctx, w.cfg.World.DefaultMap); err == nil {
		return w.cfg.World.DefaultMap, e.Center()
	}
	return w.cfg.World.DefaultMap, collision.Position{}
}
