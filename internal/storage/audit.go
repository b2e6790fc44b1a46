package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Audited actions
const (
	AuditLogin      = "login"
	AuditLogout     = "logout"
	AuditKick       = "kick"
	AuditBan        = "ban"
	AuditUnban      = "unban"
	AuditSummon     = "summon"
	AuditPermission = "permission"
	AuditRestart    = "restart"
	AuditBroadcast  = "broadcast"
	AuditWarp       = "warp"
)

const (
	auditBuffer     = 1024
	auditBatchSize  = 50
	auditFlushEvery = 5 * time.Second
)

// AuditEvent is one administrative or session event
type AuditEvent struct {
	Action    string
	Actor     string
	Target    string
	Detail    string
	Timestamp time.Time
}

// Audit records events with batched background writes
type Audit struct {
	store  *Store
	logger *slog.Logger
	events chan AuditEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAudit creates and starts the audit writer. A nil store discards events.
func NewAudit(store *Store, logger *slog.Logger) *Audit {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Audit{
		store:  store,
		logger: logger,
		events: make(chan AuditEvent, auditBuffer),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Record enqueues an event without blocking; it is dropped if the buffer is full
func (a *Audit) Record(action, actor, target, detail string) {
	select {
	case a.events <- AuditEvent{
		Action:    action,
		Actor:     actor,
		Target:    target,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}:
	default:
		a.logger.Warn("audit buffer full, dropping event", "action", action)
	}
}

// Stop flushes pending events and stops the writer
func (a *Audit) Stop() {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
}

func (a *Audit) writer() {
	defer a.wg.Done()

	batch := make([]AuditEvent, 0, auditBatchSize)
	ticker := time.NewTicker(auditFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			if len(batch) >= auditBatchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
				default:
					a.flush(batch)
					return
				}
			}
		}
	}
}

func (a *Audit) flush(events []AuditEvent) {
	if a.store == nil || len(events) == 0 {
		return
	}
	if err := a.store.RecordAudit(context.Background(), events); err != nil {
		a.logger.Error("audit flush failed", "events", len(events), "err", err)
	}
}

// RecordAudit writes a batch of audit events in one transaction
func (s *Store) RecordAudit(ctx context.Context, events []AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO audit_events (action, actor, target, detail, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, evt := range events {
		target := sql.NullString{String: evt.Target, Valid: evt.Target != ""}
		detail := sql.NullString{String: evt.Detail, Valid: evt.Detail != ""}
		if _, err := stmt.ExecContext(ctx, evt.Action, evt.Actor, target, detail, formatTimestamp(evt.Timestamp)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentAudit returns the newest audit events, newest first
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, actor, COALESCE(target, ''), COALESCE(detail, ''), created_at
		FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.Action, &e.Actor, &e.Target, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
