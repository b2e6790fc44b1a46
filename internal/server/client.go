package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"realm-server/internal/auth"
	"realm-server/internal/codec"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 50 * time.Second
	// benchmarkReadLimit bounds BENCHMARK frames when the benchmark mode lifts
	// the regular payload limit.
	benchmarkReadLimit = 8 << 20
)

// clientTypes are the packet types a client may send
var clientTypes = map[string]bool{
	MsgTimeSync: true, MsgServerTime: true, MsgMoveXY: true, MsgStats: true,
	MsgAnimation: true, MsgAuth: true, MsgLogout: true, MsgChat: true,
	MsgWhisper: true, MsgSpell: true, MsgMount: true, MsgStealth: true,
	MsgNoclip: true, MsgTeleportXY: true, MsgCommand: true,
	MsgPartyInvite: true, MsgPartyAccept: true, MsgPartyDecline: true,
	MsgPartyLeave: true, MsgPartyKick: true, MsgFriendAdd: true,
	MsgFriendRemove: true, MsgFriendList: true, MsgClientConfig: true,
	MsgBenchmark: true,
}

type closeFrame struct {
	code   int
	reason string
}

// Client represents a WebSocket connection
type Client struct {
	id        string
	ip        string
	userAgent string
	keys      *auth.KeyPair

	hub    *Hub
	world  *World
	conn   *websocket.Conn
	out    *outbox
	logger *slog.Logger

	closing   chan closeFrame
	closeOnce sync.Once
	closed    atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn, id, ip, userAgent string, keys *auth.KeyPair) *Client {
	w := hub.world
	return &Client{
		id:        id,
		ip:        ip,
		userAgent: userAgent,
		keys:      keys,
		hub:       hub,
		world:     w,
		conn:      conn,
		out:       newOutbox(w.cfg.Backpressure, w.logger, w.metrics),
		logger:    w.logger.With("session", id),
		closing:   make(chan closeFrame, 1),
	}
}

func (c *Client) isClosed() bool {
	return c.closed.Load()
}

// close asks the write pump to send a close frame with code and hang up.
// Only the first call has an effect.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closing <- closeFrame{code: code, reason: reason}
	})
}

// Send hands an encoded frame to the backpressure guard
func (c *Client) Send(frame []byte, exempt bool) {
	if c.isClosed() {
		return
	}
	c.out.push(frame, exempt)
}

// SendPacket marshals, encodes and sends one packet
func (c *Client) SendPacket(typ string, data any) {
	frame := c.world.frame(typ, data)
	if frame == nil {
		return
	}
	c.Send(frame, exemptTypes[typ])
}

// ReadPump reads frames, applies the protocol checks and rate limit, and
// posts every accepted packet to the world goroutine.
func (c *Client) ReadPump() {
	defer c.hub.unregister(c)

	cfg := c.world.cfg.Server
	limit := cfg.MaxPayload + 1
	if cfg.Benchmark {
		limit = benchmarkReadLimit
	}
	idle := cfg.IdleTimeout

	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.logger.Info("oversized frame", "limit", limit)
				c.close(CloseTooBig, "message too big")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
				c.logger.Debug("ws read error", "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(idle))

		payload, err := c.world.codec.Decode(frame)
		if err != nil {
			if errors.Is(err, codec.ErrTooLarge) {
				c.close(CloseTooBig, "message too big")
			} else {
				c.close(CloseInvalid, "invalid frame")
			}
			return
		}
		pkt, err := codec.Parse(payload)
		if err != nil || !clientTypes[pkt.Type] {
			c.logger.Debug("invalid packet", "err", err)
			c.close(CloseInvalid, "invalid packet")
			return
		}
		if int64(len(payload)) > cfg.MaxPayload && pkt.Type != MsgBenchmark {
			c.close(CloseTooBig, "message too big")
			return
		}

		if !exemptTypes[pkt.Type] {
			allowed, notify := c.world.limiter.Allow(c.id)
			if !allowed {
				if notify {
					c.logger.Warn("session rate limited")
					c.world.metrics.RateLimited.Inc()
					c.SendPacket(MsgRateLimited, NotifyMsg{Message: "Too many requests, slow down"})
				}
				continue
			}
		}
		c.world.metrics.Packets.WithLabelValues(pkt.Type).Inc()
		c.world.Post(func() { c.world.dispatch(c, pkt) })
	}
}

// WritePump writes frames handed over by the outbox, keeps the connection
// alive with pings and performs the close handshake.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.out.frames:
			if err := c.write(frame); err != nil {
				c.closed.Store(true)
				return
			}

		case cf := <-c.closing:
			// flush what was already handed over, then say goodbye
			for drained := false; !drained; {
				select {
				case frame := <-c.out.frames:
					if c.write(frame) != nil {
						return
					}
				default:
					drained = true
				}
			}
			msg := websocket.FormatCloseMessage(cf.code, cf.reason)
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(frame []byte) error {
	defer c.out.written(frame)
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}
