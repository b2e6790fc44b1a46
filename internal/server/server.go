package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"realm-server/internal/auth"
	"realm-server/internal/bus"
	"realm-server/internal/codec"
	"realm-server/internal/collision"
	"realm-server/internal/config"
	"realm-server/internal/kv"
	"realm-server/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Options are the collaborators a server is built from. Only Store is
// required; the rest have in-process defaults.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	Store  *storage.Store
	KV     kv.Store
	Bus    *bus.Bus
	Audit  *storage.Audit
	Filter ChatFilter
	Tokens *auth.Service
}

// Server is the WebSocket front of one world
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	world  *World
	hub    *Hub

	upgrader websocket.Upgrader

	ownBus   bool
	ownAudit bool
}

// New wires a world and its hub from opts
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server: a store is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}

	cache := opts.KV
	if cache == nil {
		cache = kv.NewMemory()
	}
	filter := opts.Filter
	if filter == nil {
		filter = identityFilter{}
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	}
	audit := opts.Audit
	if audit == nil {
		audit = storage.NewAudit(opts.Store, logger)
		s.ownAudit = true
	}
	b := opts.Bus
	if b == nil {
		var err error
		b, err = bus.Open(cfg.Bus.URL, cfg.World.Name, logger)
		if err != nil {
			return nil, fmt.Errorf("opening bus: %w", err)
		}
		s.ownBus = true
	}

	maxDecoded := int(cfg.Server.MaxPayload)
	if cfg.Server.Benchmark {
		maxDecoded = max(maxDecoded, benchmarkReadLimit)
	}
	cd, err := codec.New(maxDecoded)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	w := &World{
		cfg:         cfg,
		logger:      logger,
		store:       opts.Store,
		kv:          cache,
		maps:        collision.NewCache(cache, logger),
		codec:       cd,
		bus:         b,
		metrics:     NewMetrics(),
		audit:       audit,
		filter:      filter,
		matcher:     newMatcher(cfg.World.Languages, logger),
		limiter:     NewRateLimiter(cfg.RateLimit),
		players:     NewPlayers(),
		pending:     make(map[string]*pendingAuth),
		parties:     make(map[string]*Party),
		restartUnit: time.Minute,
		rand:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		cmds:        make(chan func(), commandQueueSize),
		done:        make(chan struct{}),
	}
	w.auth = newAuthWorker(tokens, opts.Store, cache, logger.With("component", "auth"), func(result []byte) {
		w.Post(func() { w.handleAuthResult(result) })
	})
	w.hub = NewHub(w)

	s.world = w
	s.hub = w.hub
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // Non-browser clients don't send Origin
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
	return s, nil
}

// newMatcher builds the language matcher; the first valid tag is the fallback
func newMatcher(languages []string, logger *slog.Logger) language.Matcher {
	tags := make([]language.Tag, 0, len(languages))
	for _, l := range languages {
		tag, err := language.Parse(l)
		if err != nil {
			logger.Warn("ignoring unknown language", "language", l, "err", err)
			continue
		}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		tags = append(tags, language.English)
	}
	return language.NewMatcher(tags)
}

// World returns the world served by s
func (s *Server) World() *World {
	return s.world
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Handler returns the HTTP routes: the WebSocket endpoint, metrics and health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.Handle(s.cfg.Server.MetricsPath, s.world.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"world":       s.cfg.World.Name,
			"connections": s.hub.Count(),
			"players":     s.world.players.Len(),
		})
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ua := r.UserAgent()
	if ua == "" {
		http.Error(w, "missing user agent", http.StatusBadRequest)
		return
	}
	ip := extractIP(r)
	if !s.hub.allowIP(ip) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "ip", ip, "err", err)
		return
	}
	keys, err := auth.GenerateKeyPair()
	if err != nil {
		s.logger.Error("generating session keys", "err", err)
		conn.Close()
		return
	}

	c := newClient(s.hub, conn, uuid.NewString(), ip, ua, keys)
	go c.WritePump()
	if !s.hub.register(c) {
		c.logger.Warn("rejecting connection, server full")
		c.close(ClosePolicy, "server full")
		c.out.close()
		return
	}
	c.logger.Debug("connection opened", "ip", ip, "user_agent", ua)
	c.SendPacket(MsgPublicKey, PublicKeyMsg{Key: keys.PublicKeyString()})
	go c.ReadPump()
}

// Run serves until ctx is cancelled, then disconnects everyone and persists
// the remaining players.
func (s *Server) Run(ctx context.Context) error {
	if err := s.hub.Start(); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.world.Run(ctx) })
	g.Go(func() error { return s.world.RunLoops(ctx) })
	g.Go(func() error {
		s.logger.Info("server listening", "addr", srv.Addr, "world", s.cfg.World.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listening: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		s.hub.closeAll(CloseNormal, "server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close persists the players still cached and releases every collaborator
// the server created. The world goroutine must have stopped.
func (s *Server) Close() {
	w := s.world
	w.stopped.Do(func() { close(w.done) })
	s.hub.Stop()
	w.auth.Stop()

	for _, p := range w.players.List() {
		p.stopTimers()
		if p.Guest || !p.valid() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := w.store.SaveStats(ctx, p.UserID, p.Stats)
		if err == nil {
			err = w.store.SaveLocation(ctx, p.UserID, storage.Location{
				Map: p.Location.Map, X: p.Location.X, Y: p.Location.Y, Direction: p.Location.Direction,
			})
		}
		if err == nil {
			err = w.store.ClearSessionID(ctx, p.UserID, p.SessionID)
		}
		cancel()
		if err != nil {
			s.logger.Error("final save failed", "user", p.Username, "err", err)
		}
	}
	w.players.Clear()
	w.Wait()

	if s.ownAudit {
		w.audit.Stop()
	}
	if s.ownBus {
		w.bus.Close()
	}
	w.codec.Close()
}

// SeedWorld writes the built-in catalog, the default map and its
// properties wherever they are missing.
func SeedWorld(ctx context.Context, store kv.Store, cfg *config.Config) error {
	if err := kv.Seed(ctx, store); err != nil {
		return fmt.Errorf("seeding catalog: %w", err)
	}

	name := cfg.World.DefaultMap
	_, err := store.GetNested(ctx, kv.KeyMaps, name)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		if err := kv.SetNestedJSON(ctx, store, kv.KeyMaps, name, collision.DefaultMap(name)); err != nil {
			return fmt.Errorf("seeding map %s: %w", name, err)
		}
	case err != nil:
		return fmt.Errorf("checking map %s: %w", name, err)
	}

	_, err = store.GetNested(ctx, kv.KeyMapProperties, name)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		if err := kv.SetNestedJSON(ctx, store, kv.KeyMapProperties, name, mapProperties{PvP: true}); err != nil {
			return fmt.Errorf("seeding properties of %s: %w", name, err)
		}
	case err != nil:
		return fmt.Errorf("checking properties of %s: %w", name, err)
	}
	return nil
}
