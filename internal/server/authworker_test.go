package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"realm-server/internal/auth"
	"realm-server/internal/kv"
)

func newTestWorker(t *testing.T) (*authWorker, chan authResult) {
	t.Helper()
	replies := make(chan authResult, 8)
	a := newAuthWorker(nil, nil, kv.NewMemory(), slog.New(slog.NewTextHandler(io.Discard, nil)), func(raw []byte) {
		var res authResult
		if err := msgpack.Unmarshal(raw, &res); err != nil {
			t.Error(err)
			return
		}
		replies <- res
	})
	t.Cleanup(a.Stop)
	return a, replies
}

func nextReply(t *testing.T, replies chan authResult) authResult {
	t.Helper()
	select {
	case res := <-replies:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from the auth worker")
		return authResult{}
	}
}

func TestAuthWorkerGuest(t *testing.T) {
	a, replies := newTestWorker(t)
	if err := a.Process(authRequest{SessionID: "s1", Guest: true}); err != nil {
		t.Fatal(err)
	}
	res := nextReply(t, replies)
	if !res.OK || res.SessionID != "s1" || res.Payload == nil || !res.Payload.Guest {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Payload.Spells) != 0 || res.Payload.UserID != 0 {
		t.Errorf("guest payload = %+v", res.Payload)
	}
}

func TestAuthWorkerReusesGoroutine(t *testing.T) {
	a, replies := newTestWorker(t)
	a.Process(authRequest{SessionID: "s1", Guest: true})
	nextReply(t, replies)
	first, _ := a.current()
	a.Process(authRequest{SessionID: "s2", Guest: true})
	nextReply(t, replies)
	second, _ := a.current()
	if first != second {
		t.Error("worker recreated between requests")
	}
}

func TestAuthWorkerRebuildsAfterPanic(t *testing.T) {
	a, replies := newTestWorker(t)
	var calls atomic.Int32
	a.load = func(ctx context.Context, catalog *kv.Catalog, req authRequest) (*loginPayload, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return guestPayload(), nil
	}

	if err := a.Process(authRequest{SessionID: "s1", Guest: true}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "teardown", func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.proc == nil
	})

	if err := a.Process(authRequest{SessionID: "s2", Guest: true}); err != nil {
		t.Fatal(err)
	}
	res := nextReply(t, replies)
	if !res.OK || res.SessionID != "s2" {
		t.Errorf("result after rebuild = %+v", res)
	}
}

func TestAuthWorkerFailureReasons(t *testing.T) {
	a, replies := newTestWorker(t)
	failures := []struct {
		err  error
		want string
	}{
		{auth.ErrInvalidToken, "invalid token"},
		{errBanned, "account banned"},
		{errors.New("disk on fire"), "login failed"},
	}
	for _, f := range failures {
		a.load = func(context.Context, *kv.Catalog, authRequest) (*loginPayload, error) {
			return nil, f.err
		}
		a.Reload()
		a.Process(authRequest{SessionID: "s", Token: "t"})
		res := nextReply(t, replies)
		if res.OK || res.Reason != f.want {
			t.Errorf("%v: result = %+v, want reason %q", f.err, res, f.want)
		}
	}
}

func TestUnmatchedAuthReplyDropped(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	raw, err := msgpack.Marshal(authResult{SessionID: "closed-session", OK: true, Payload: guestPayload()})
	if err != nil {
		t.Fatal(err)
	}
	w.Do(func() { w.handleAuthResult(raw) })
	if n := w.players.Len(); n != 0 {
		t.Errorf("players = %d, want 0", n)
	}
}

func TestNewerLoginReplacesSession(t *testing.T) {
	s := newTestServer(t)
	w := s.world
	old := addPlayer(t, s, "alice", 400, 400)

	c := newClient(s.hub, nil, "fresh", "127.0.0.1", "test", nil)
	payload := guestPayload()
	payload.Guest = false
	payload.UserID = old.UserID
	payload.Username = "alice"
	raw, err := msgpack.Marshal(authResult{SessionID: "fresh", OK: true, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	w.Do(func() {
		w.pending["fresh"] = &pendingAuth{client: c, language: "en", started: time.Now()}
		w.handleAuthResult(raw)
	})

	if w.players.Get(old.SessionID) != nil {
		t.Error("older session still cached")
	}
	if !old.client.isClosed() {
		t.Error("older connection left open")
	}
	if w.players.Get("fresh") == nil {
		t.Error("newer session not spawned")
	}
}

func TestAuthWorkerQueueFullFailsFast(t *testing.T) {
	a := newAuthWorker(nil, nil, kv.NewMemory(), slog.New(slog.NewTextHandler(io.Discard, nil)), func([]byte) {})
	t.Cleanup(a.Stop)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	started := make(chan struct{}, 1)
	a.load = func(context.Context, *kv.Catalog, authRequest) (*loginPayload, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return guestPayload(), nil
	}

	if err := a.Process(authRequest{SessionID: "first", Guest: true}); err != nil {
		t.Fatal(err)
	}
	<-started
	for i := range authQueueSize {
		if err := a.Process(authRequest{SessionID: "queued", Guest: true}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- a.Process(authRequest{SessionID: "overflow", Guest: true}) }()
	select {
	case err := <-done:
		if !errors.Is(err, errWorkerBusy) {
			t.Errorf("err = %v, want %v", err, errWorkerBusy)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process blocked on a full queue")
	}
}
