// Package bus carries server-wide broadcast channels over NATS, either an
// external server or one embedded in the process.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Broadcast channels
const (
	SubjectConnectionCount = "CONNECTION_COUNT"
	SubjectBroadcast       = "BROADCAST"
	SubjectDisconnect      = "DISCONNECT_PLAYER"
)

const readyTimeout = 5 * time.Second

// Subscription is a live subscription
type Subscription struct {
	sub *nats.Subscription
}

// Unsubscribe stops delivery
func (s *Subscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Bus publishes and subscribes on subjects scoped to one world
type Bus struct {
	nc     *nats.Conn
	ns     *server.Server
	prefix string
	logger *slog.Logger
}

// Open connects to url, or starts an embedded server when url is empty.
// Subjects are namespaced under "realm.<world>.".
func Open(url, world string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{prefix: "realm." + world + ".", logger: logger}

	opts := []nats.Option{
		nats.Name("realmd"),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("bus error", "subject", subject, "err", err)
		}),
	}

	if url == "" {
		ns, err := server.NewServer(&server.Options{
			DontListen: true,
			NoLog:      true,
			NoSigs:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded nats: %w", err)
		}
		ns.Start()
		if !ns.ReadyForConnections(readyTimeout) {
			ns.Shutdown()
			return nil, errors.New("embedded nats not ready")
		}
		b.ns = ns
		url = ns.ClientURL()
		opts = append(opts, nats.InProcessServer(ns))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		if b.ns != nil {
			b.ns.Shutdown()
		}
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	b.nc = nc
	logger.Info("bus connected", "embedded", b.ns != nil, "prefix", b.prefix)
	return b, nil
}

// Publish sends payload on subject
func (b *Bus) Publish(subject string, payload []byte) error {
	return b.nc.Publish(b.prefix+subject, payload)
}

// Subscribe delivers every message on subject to fn. fn runs on the bus's
// delivery goroutine and must not block.
func (b *Bus) Subscribe(subject string, fn func(payload []byte)) (*Subscription, error) {
	sub, err := b.nc.Subscribe(b.prefix+subject, func(m *nats.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return &Subscription{sub: sub}, nil
}

// Flush waits until the server has processed everything published so far
func (b *Bus) Flush() error {
	return b.nc.Flush()
}

// Close drains the connection and stops the embedded server, if any
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
}
