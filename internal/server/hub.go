package server

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"realm-server/internal/bus"
	"realm-server/internal/codec"
)

// ipIdle is how long an IP's upgrade limiter survives without use
const ipIdle = 5 * time.Minute

// topics every connection is subscribed to
var hubTopics = []string{bus.SubjectConnectionCount, bus.SubjectBroadcast, bus.SubjectDisconnect}

type ipLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Hub tracks open connections, fans bus traffic out to them and throttles
// upgrades per IP.
type Hub struct {
	world  *World
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[string]map[*Client]struct{}
	subs    []*bus.Subscription

	ipMu sync.Mutex
	ips  map[string]*ipLimiter
}

// NewHub creates a hub for the world
func NewHub(w *World) *Hub {
	h := &Hub{
		world:   w,
		bus:     w.bus,
		logger:  w.logger,
		clients: make(map[string]*Client),
		topics:  make(map[string]map[*Client]struct{}),
		ips:     make(map[string]*ipLimiter),
	}
	for _, t := range hubTopics {
		h.topics[t] = make(map[*Client]struct{})
	}
	return h
}

// Start subscribes the hub to every broadcast subject
func (h *Hub) Start() error {
	for _, topic := range hubTopics {
		sub, err := h.bus.Subscribe(topic, func(payload []byte) {
			h.fanout(topic, payload)
		})
		if err != nil {
			h.Stop()
			return err
		}
		h.subs = append(h.subs, sub)
	}
	return nil
}

// Stop drops the bus subscriptions
func (h *Hub) Stop() {
	for _, s := range h.subs {
		if err := s.Unsubscribe(); err != nil {
			h.logger.Debug("unsubscribe", "err", err)
		}
	}
	h.subs = nil
}

// fanout encodes a bus payload once and sends it to every topic member
func (h *Hub) fanout(topic string, payload []byte) {
	frame := h.world.codec.Encode(payload)
	h.mu.RLock()
	members := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		members = append(members, c)
	}
	h.mu.RUnlock()
	for _, c := range members {
		c.Send(frame, false)
	}
}

// register adds c unless the server is at capacity
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	if limit := h.world.cfg.Server.MaxSessions; limit > 0 && len(h.clients) >= limit {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	for _, t := range hubTopics {
		h.topics[t][c] = struct{}{}
	}
	h.mu.Unlock()
	h.world.metrics.Connections.Inc()

	if h.delayedCount(c.userAgent) {
		time.AfterFunc(h.world.cfg.World.ConnectionCountDelay, h.publishCount)
		return true
	}
	h.publishCount()
	return true
}

// unregister runs once per connection when its read pump ends
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for _, t := range hubTopics {
		delete(h.topics[t], c)
	}
	h.mu.Unlock()

	c.close(CloseNormal, "")
	c.out.close()
	h.world.limiter.Remove(c.id)
	h.world.metrics.Connections.Dec()
	h.publishCount()
	h.world.Post(func() { h.world.disconnect(c) })
}

func (h *Hub) delayedCount(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, agent := range h.world.cfg.World.DelayedCountAgents {
		if agent != "" && strings.Contains(ua, strings.ToLower(agent)) {
			return true
		}
	}
	return false
}

func (h *Hub) publishCount() {
	payload, err := codec.Marshal(MsgConnectionCount, CountMsg{Count: h.Count()})
	if err != nil {
		return
	}
	if err := h.bus.Publish(bus.SubjectConnectionCount, payload); err != nil {
		h.logger.Warn("publishing connection count", "err", err)
	}
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll closes every open connection with code
func (h *Hub) closeAll(code int, reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close(code, reason)
	}
}

// allowIP takes a token from the IP's upgrade bucket
func (h *Hub) allowIP(ip string) bool {
	h.ipMu.Lock()
	defer h.ipMu.Unlock()
	l, ok := h.ips[ip]
	if !ok {
		per := h.world.cfg.Server.UpgradesPerIP
		burst := max(int(per), 1)
		l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(per), burst)}
		h.ips[ip] = l
	}
	l.seen = time.Now()
	return l.limiter.Allow()
}

// pruneIPs forgets limiters that have been idle for a while
func (h *Hub) pruneIPs(now time.Time) int {
	h.ipMu.Lock()
	defer h.ipMu.Unlock()
	n := 0
	for ip, l := range h.ips {
		if now.Sub(l.seen) > ipIdle {
			delete(h.ips, ip)
			n++
		}
	}
	return n
}
