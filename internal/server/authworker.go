package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"realm-server/internal/auth"
	"realm-server/internal/kv"
	"realm-server/internal/storage"
)

const authQueueSize = 256

var (
	errWorkerGone = errors.New("auth worker stopped")
	errWorkerBusy = errors.New("auth worker queue full")
	errBanned     = errors.New("account is banned")
)

// authRequest is what crosses into the worker
type authRequest struct {
	SessionID string `msgpack:"sid"`
	Token     string `msgpack:"token"`
	Guest     bool   `msgpack:"guest"`
}

// authResult is what comes back
type authResult struct {
	SessionID string        `msgpack:"sid"`
	OK        bool          `msgpack:"ok"`
	Reason    string        `msgpack:"reason,omitempty"`
	Payload   *loginPayload `msgpack:"payload,omitempty"`
}

// loginPayload is a fully assembled login, checked against the catalog
type loginPayload struct {
	UserID       int64               `msgpack:"uid"`
	Username     string              `msgpack:"username"`
	Admin        bool                `msgpack:"admin"`
	Guest        bool                `msgpack:"guest"`
	Stats        storage.Stats       `msgpack:"stats"`
	Location     *storage.Location   `msgpack:"location"`
	Equipment    map[string]kv.Item  `msgpack:"equipment"`
	Inventory    []InventoryItem     `msgpack:"inventory"`
	Collectables []string            `msgpack:"collectables"`
	Spells       map[string]kv.Spell `msgpack:"spells"`
	Permissions  []string            `msgpack:"permissions"`
	Friends      []string            `msgpack:"friends"`
	ClientConfig string              `msgpack:"config"`
}

// workerProc is one incarnation of the worker goroutine
type workerProc struct {
	requests chan []byte
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (p *workerProc) halt() {
	p.once.Do(func() { close(p.stop) })
}

// authWorker offloads login assembly to a single long-lived goroutine.
// Requests and results cross the boundary as msgpack bytes; the reference
// catalog is serialised once when the goroutine starts.
type authWorker struct {
	tokens *auth.Service
	store  *storage.Store
	kv     kv.Store
	logger *slog.Logger
	reply  func(result []byte)

	// load assembles one login; replaced in tests
	load func(ctx context.Context, catalog *kv.Catalog, req authRequest) (*loginPayload, error)

	mu   sync.Mutex
	proc *workerProc
}

func newAuthWorker(tokens *auth.Service, store *storage.Store, cache kv.Store, logger *slog.Logger, reply func([]byte)) *authWorker {
	a := &authWorker{
		tokens: tokens,
		store:  store,
		kv:     cache,
		logger: logger,
		reply:  reply,
	}
	a.load = a.assemble
	return a
}

// Process hands a request to the worker, starting it if needed. It never
// blocks: a full queue is reported as errWorkerBusy.
func (a *authWorker) Process(req authRequest) error {
	raw, err := msgpack.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding auth request: %w", err)
	}
	proc, err := a.current()
	if err != nil {
		return err
	}
	select {
	case proc.requests <- raw:
		return nil
	case <-proc.done:
		return errWorkerGone
	default:
		return errWorkerBusy
	}
}

func (a *authWorker) current() (*workerProc, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.proc != nil {
		return a.proc, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	catalog, err := kv.LoadCatalog(ctx, a.kv)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	snapshot, err := msgpack.Marshal(catalog)
	if err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}

	p := &workerProc{
		requests: make(chan []byte, authQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	a.proc = p
	go a.run(p, snapshot)
	a.logger.Info("auth worker started", "items", len(catalog.Items), "spells", len(catalog.Spells), "mounts", len(catalog.Mounts))
	return p, nil
}

// Reload stops the worker so the next request starts a fresh one with the
// current catalog
func (a *authWorker) Reload() {
	a.mu.Lock()
	p := a.proc
	a.proc = nil
	a.mu.Unlock()
	if p != nil {
		p.halt()
	}
}

// Stop halts the worker
func (a *authWorker) Stop() {
	a.Reload()
}

func (a *authWorker) teardown(p *workerProc) {
	a.mu.Lock()
	if a.proc == p {
		a.proc = nil
	}
	a.mu.Unlock()
	p.halt()
}

func (a *authWorker) run(p *workerProc, snapshot []byte) {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("auth worker crashed", "panic", r)
			a.teardown(p)
		}
	}()

	var catalog kv.Catalog
	if err := msgpack.Unmarshal(snapshot, &catalog); err != nil {
		a.logger.Error("auth worker catalog", "err", err)
		a.teardown(p)
		return
	}

	for {
		select {
		case <-p.stop:
			return
		case raw := <-p.requests:
			out, err := msgpack.Marshal(a.handle(&catalog, raw))
			if err != nil {
				a.logger.Error("encoding auth result", "err", err)
				continue
			}
			a.reply(out)
		}
	}
}

func (a *authWorker) handle(catalog *kv.Catalog, raw []byte) authResult {
	var req authRequest
	if err := msgpack.Unmarshal(raw, &req); err != nil {
		return authResult{Reason: "invalid request"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	payload, err := a.load(ctx, catalog, req)
	if err != nil {
		reason := "login failed"
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			reason = "invalid token"
		case errors.Is(err, errBanned):
			reason = "account banned"
		case errors.Is(err, storage.ErrNotFound):
			reason = "account not found"
		default:
			a.logger.Error("assembling login", "err", err)
		}
		return authResult{SessionID: req.SessionID, Reason: reason}
	}
	return authResult{SessionID: req.SessionID, OK: true, Payload: payload}
}

// assemble validates the token and loads everything a player needs
func (a *authWorker) assemble(ctx context.Context, catalog *kv.Catalog, req authRequest) (*loginPayload, error) {
	if req.Guest {
		return guestPayload(), nil
	}
	claims, err := a.tokens.ValidateToken(req.Token)
	if err != nil {
		return nil, err
	}
	rec, err := a.store.LoadLoginPayload(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading login payload: %w", err)
	}
	if rec.Account.Banned {
		return nil, errBanned
	}

	p := &loginPayload{
		UserID:       rec.Account.ID,
		Username:     rec.Account.Username,
		Admin:        rec.Account.Role == storage.RoleAdmin,
		Guest:        rec.Account.Guest,
		Stats:        rec.Stats,
		Location:     rec.Location,
		Equipment:    make(map[string]kv.Item),
		Spells:       make(map[string]kv.Spell),
		Permissions:  rec.Permissions,
		Friends:      rec.Friends,
		ClientConfig: rec.ClientConfig,
	}

	// equipment must name a known item that fits the slot
	for slot, name := range rec.Equipment {
		it, ok := catalog.Items[name]
		if !ok || it.Type != slot {
			continue
		}
		p.Equipment[slot] = it
	}
	for _, row := range rec.Inventory {
		if it, ok := catalog.Items[row.Item]; ok && row.Quantity > 0 {
			p.Inventory = append(p.Inventory, InventoryItem{Item: it, Quantity: row.Quantity})
		}
	}
	for _, c := range rec.Collectables {
		if _, ok := catalog.Mounts[c.Item]; ok {
			p.Collectables = append(p.Collectables, c.Item)
		}
	}
	sort.Strings(p.Collectables)
	for _, name := range rec.Spells {
		if sp, ok := catalog.Spells[name]; ok {
			p.Spells[name] = sp
		}
	}
	return p, nil
}

// guestPayload builds a throwaway character that never touches the store
func guestPayload() *loginPayload {
	return &loginPayload{
		Username: auth.GenerateGuestName(),
		Guest:    true,
		Stats: storage.Stats{
			Health: 100, MaxHealth: 100,
			Stamina: 100, MaxStamina: 100,
			MaxXP: storage.XPToNextLevel(1),
			Level: 1,
		},
		Equipment: make(map[string]kv.Item),
		Spells:    make(map[string]kv.Spell),
	}
}
