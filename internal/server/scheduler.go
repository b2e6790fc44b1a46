package server

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"realm-server/internal/storage"
)

// RunLoops runs the four scheduler loops until ctx is cancelled
func (w *World) RunLoops(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	loops := []struct {
		name   string
		period time.Duration
		fn     func(time.Time)
	}{
		{"high_frequency", w.cfg.Tick.HighFrequency, w.highFrequencyTick},
		{"fixed", w.cfg.Tick.Fixed, w.fixedTick},
		{"world", w.cfg.Tick.World, func(now time.Time) { w.Do(func() { w.worldTick(now) }) }},
		{"save", w.cfg.Tick.Save, w.saveTick},
	}
	for _, l := range loops {
		g.Go(func() error {
			return w.loop(ctx, l.name, l.period, l.fn)
		})
	}
	return g.Wait()
}

func (w *World) loop(ctx context.Context, name string, period time.Duration, fn func(time.Time)) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	hist := w.metrics.TickDuration.WithLabelValues(name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case now := <-ticker.C:
			fn(now)
			hist.Observe(time.Since(now).Seconds())
		}
	}
}

// highFrequencyTick is reserved for per-frame simulation; movement runs on
// its own loops, so there is nothing to do yet.
func (w *World) highFrequencyTick(time.Time) {}

func (w *World) fixedTick(now time.Time) {
	for _, id := range w.limiter.Expire() {
		w.logger.Debug("rate limit lifted", "session", id)
	}
	w.hub.pruneIPs(now)
}

// worldTick runs on the world goroutine. It evicts inactive sessions,
// expires PvP flags and regenerates stats.
func (w *World) worldTick(now time.Time) {
	for _, p := range w.players.List() {
		if w.inactive(p, now) {
			if p.client != nil {
				p.client.close(CloseNormal, "inactive")
			}
			w.removePlayer(p.SessionID, "inactive")
			continue
		}

		if p.PvP && now.Sub(p.LastAttack) >= w.cfg.Tick.PvPTimeout {
			p.PvP = false
		}
		if w.regenerate(p) {
			w.sendStats(p)
		}
	}
	w.purgeInvitations(now)
}

// inactive reports whether the session is gone or has been silent for too long
func (w *World) inactive(p *Player, now time.Time) bool {
	if p.client == nil || p.client.isClosed() {
		return true
	}
	return now.Sub(p.LastActivity) > w.cfg.Tick.InactivityTimeout
}

// regenerate restores a percentage of stamina, and of health outside PvP.
// It reports whether anything changed.
func (w *World) regenerate(p *Player) bool {
	if p.Stats.Health <= 0 {
		return false
	}
	st := &p.Stats
	before := *st
	if !p.PvP && st.Health < st.MaxHealth {
		st.Health = min(st.Health+regenAmount(st.MaxHealth, w.cfg.Tick.RegenPercent), st.MaxHealth)
	}
	if st.Stamina < st.MaxStamina {
		st.Stamina = min(st.Stamina+regenAmount(st.MaxStamina, w.cfg.Tick.RegenPercent), st.MaxStamina)
	}
	return *st != before
}

func regenAmount(maxValue int, percent float64) int {
	return max(1, int(float64(maxValue)*percent))
}

type saveEntry struct {
	userID   int64
	username string
	stats    storage.Stats
	location storage.Location
}

// saveTick snapshots registered players on the world goroutine and writes
// them from the scheduler goroutine. Malformed entries are evicted.
func (w *World) saveTick(time.Time) {
	var batch []saveEntry
	w.Do(func() {
		for _, p := range w.players.List() {
			if !p.valid() {
				w.logger.Warn("evicting malformed cache entry", "session", p.SessionID)
				if p.client != nil {
					p.client.close(ClosePolicy, "invalid session")
				}
				w.dropPlayer(p.SessionID, "invalid session", false)
				continue
			}
			if p.Guest {
				continue
			}
			batch = append(batch, saveEntry{
				userID:   p.UserID,
				username: p.Username,
				stats:    p.Stats,
				location: storage.Location{Map: p.Location.Map, X: p.Location.X, Y: p.Location.Y, Direction: p.Location.Direction},
			})
		}
	})

	for _, e := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := w.store.SaveStats(ctx, e.userID, e.stats)
		if err == nil {
			err = w.store.SaveLocation(ctx, e.userID, e.location)
		}
		cancel()
		if err != nil {
			w.logger.Error("periodic save failed", "user", e.username, "err", err)
		}
	}
	if len(batch) > 0 {
		w.logger.Debug("saved players", "count", len(batch))
	}
}
