package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"realm-server/internal/config"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOutboxFlushesInOrder(t *testing.T) {
	o := newOutbox(config.BackpressureConfig{
		Ceiling:     100,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		MaxAttempts: 20,
	}, slog.Default(), NewMetrics())

	big := bytes.Repeat([]byte("b"), 150)
	o.push(big, false)
	for i := 0; i < 5; i++ {
		o.push([]byte(fmt.Sprintf("m%d", i)), false)
	}
	o.push([]byte("exempt"), true)

	if q := o.queued(); q != 5 {
		t.Fatalf("queued = %d, want 5", q)
	}

	// the pump writes what it already holds
	for _, want := range []string{string(big), "exempt"} {
		got := <-o.frames
		if string(got) != want {
			t.Fatalf("frame = %q, want %q", got, want)
		}
		o.written(got)
	}

	waitFor(t, "queue to drain", func() bool { return o.queued() == 0 })
	for i := 0; i < 5; i++ {
		got := <-o.frames
		if want := fmt.Sprintf("m%d", i); string(got) != want {
			t.Fatalf("flushed frame %d = %q, want %q", i, got, want)
		}
	}
}

func TestOutboxNewSendsWaitBehindQueue(t *testing.T) {
	o := newOutbox(config.BackpressureConfig{
		Ceiling:     10,
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
		MaxAttempts: 20,
	}, slog.Default(), nil)
	defer o.close()

	first := bytes.Repeat([]byte("a"), 20)
	o.push(first, false)
	o.push([]byte("q1"), false)
	<-o.frames
	o.written(first)

	// buffer is empty again but q1 is still queued, so q2 must not jump it
	o.push([]byte("q2"), false)
	if q := o.queued(); q != 2 {
		t.Fatalf("queued = %d, want 2", q)
	}
	if len(o.frames) != 0 {
		t.Fatal("q2 overtook the queue")
	}
	o.retry()
	if string(<-o.frames) != "q1" || string(<-o.frames) != "q2" {
		t.Fatal("flush out of order")
	}
}

func TestOutboxAbandonsAfterMaxAttempts(t *testing.T) {
	m := NewMetrics()
	o := newOutbox(config.BackpressureConfig{
		Ceiling:     0,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		MaxAttempts: 3,
	}, slog.Default(), m)

	o.push([]byte("stuck"), false)
	o.push([]byte("a"), false)
	o.push([]byte("b"), false)

	waitFor(t, "queue to be abandoned", func() bool { return o.queued() == 0 })
	if len(o.frames) != 1 {
		t.Errorf("frames handed = %d, want 1", len(o.frames))
	}
}

func TestOutboxCloseStopsRetries(t *testing.T) {
	o := newOutbox(config.BackpressureConfig{
		Ceiling:     0,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		MaxAttempts: 1000,
	}, slog.Default(), nil)
	o.push([]byte("stuck"), false)
	o.push([]byte("queued"), false)
	o.close()
	o.push([]byte("late"), false)
	time.Sleep(10 * time.Millisecond)
	if o.queued() != 0 || len(o.frames) != 1 {
		t.Errorf("queued=%d frames=%d after close", o.queued(), len(o.frames))
	}
}
