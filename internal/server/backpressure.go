package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"realm-server/internal/config"
)

// outboxFrames bounds the frames handed to the write pump at once
const outboxFrames = 1024

// outbox sits between senders and the write pump. Buffered counts the bytes
// handed to the pump but not yet written. Once it passes the ceiling,
// non-exempt frames wait in a FIFO queue that a retry task drains with
// linear backoff, giving up after MaxAttempts.
type outbox struct {
	frames   chan []byte
	buffered atomic.Int64

	cfg     config.BackpressureConfig
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	pending [][]byte
	attempt int
	timer   *time.Timer
	closed  bool
}

func newOutbox(cfg config.BackpressureConfig, logger *slog.Logger, metrics *Metrics) *outbox {
	return &outbox{
		frames:  make(chan []byte, outboxFrames),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *outbox) over() bool {
	return o.buffered.Load() > o.cfg.Ceiling || len(o.frames) == cap(o.frames)
}

// hand passes a frame to the write pump. Caller holds o.mu.
func (o *outbox) hand(frame []byte) bool {
	select {
	case o.frames <- frame:
		o.buffered.Add(int64(len(frame)))
		return true
	default:
		return false
	}
}

// push delivers or queues a frame. Exempt frames are never queued: they
// go straight to the pump or are dropped when it is full.
func (o *outbox) push(frame []byte, exempt bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if exempt {
		o.hand(frame)
		return
	}
	if len(o.pending) == 0 && !o.over() && o.hand(frame) {
		return
	}
	o.pending = append(o.pending, frame)
	if o.metrics != nil {
		o.metrics.BackpressureQueued.Inc()
	}
	if o.timer == nil {
		o.schedule()
	}
}

// schedule arms the next retry. Caller holds o.mu.
func (o *outbox) schedule() {
	o.attempt++
	delay := o.cfg.BaseDelay * time.Duration(o.attempt)
	if delay > o.cfg.MaxDelay {
		delay = o.cfg.MaxDelay
	}
	o.timer = time.AfterFunc(delay, o.retry)
}

func (o *outbox) retry() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timer = nil
	if o.closed {
		return
	}
	for len(o.pending) > 0 && !o.over() {
		if !o.hand(o.pending[0]) {
			break
		}
		o.pending[0] = nil
		o.pending = o.pending[1:]
	}
	if len(o.pending) == 0 {
		o.pending = nil
		o.attempt = 0
		return
	}
	if o.attempt >= o.cfg.MaxAttempts {
		o.logger.Warn("backpressure retries exhausted, dropping queued sends",
			"queued", len(o.pending), "buffered", o.buffered.Load())
		if o.metrics != nil {
			o.metrics.BackpressureAbandoned.Add(float64(len(o.pending)))
		}
		o.pending = nil
		o.attempt = 0
		return
	}
	o.schedule()
}

// written is called by the write pump after a frame left the process
func (o *outbox) written(frame []byte) {
	o.buffered.Add(-int64(len(frame)))
}

// queued returns the number of frames waiting for the buffer to drain
func (o *outbox) queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// close stops the retry task and drops queued frames
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.pending = nil
}
