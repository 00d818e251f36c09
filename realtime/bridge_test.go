package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/logger"
	"github.com/wanderlink/wander-sync/store"
	"github.com/wanderlink/wander-sync/types"
)

type wsServer struct {
	srv    *httptest.Server
	dials  int64
	reject int32
	auth   atomic.Value

	connMu sync.Mutex
	conns  []*websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()

	s := &wsServer{}
	upgrader := websocket.Upgrader{}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&s.reject) == 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}

		s.auth.Store(r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt64(&s.dials, 1)

		s.connMu.Lock()
		s.conns = append(s.conns, conn)
		s.connMu.Unlock()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// closeWebsockets drops every upgraded connection. httptest's
// CloseClientConnections stops tracking hijacked conns, so it cannot
// sever live websockets on its own.
func (s *wsServer) closeWebsockets() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *wsServer) dialCount() int64 {
	return atomic.LoadInt64(&s.dials)
}

func newTestBridge(t *testing.T, url string, localStore types.LocalStore) *Bridge {
	t.Helper()

	b, err := NewBridge(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.RealtimeConfig{
		URL:            url,
		ReconnectDelay: 5 * time.Millisecond,
		MaxRetries:     2,
	}, localStore, nil)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBridgeRefcountedLifecycle(t *testing.T) {
	s := newWSServer(t)
	b := newTestBridge(t, s.url(), store.NewMemoryStore())

	if b.IsConnected() || b.Consumers() != 0 {
		t.Fatal("bridge must start disconnected with no consumers")
	}

	// First consumer dials.
	if err := b.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !b.IsConnected() || b.Consumers() != 1 {
		t.Fatalf("expected connected with 1 consumer, got %v/%d", b.IsConnected(), b.Consumers())
	}
	waitFor(t, "first dial", func() bool { return s.dialCount() == 1 })

	// Second consumer reuses the connection.
	if err := b.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if b.Consumers() != 2 {
		t.Fatalf("expected 2 consumers, got %d", b.Consumers())
	}

	time.Sleep(50 * time.Millisecond)
	if s.dialCount() != 1 {
		t.Fatalf("second Acquire must not redial, got %d dials", s.dialCount())
	}

	// First detach keeps the connection up.
	if err := b.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !b.IsConnected() || b.Consumers() != 1 {
		t.Fatal("connection must survive until the last consumer leaves")
	}

	// Last detach tears it down.
	if err := b.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if b.IsConnected() || b.Consumers() != 0 {
		t.Fatal("last Release must disconnect")
	}

	if err := b.Release(); !types.IsError(err, types.ErrBridgeNotConnected) {
		t.Fatalf("Release below zero must fail, got %v", err)
	}
}

func TestBridgeReconnectsAfterLastRelease(t *testing.T) {
	s := newWSServer(t)
	b := newTestBridge(t, s.url(), store.NewMemoryStore())

	_ = b.Acquire()
	_ = b.Release()

	if err := b.Acquire(); err != nil {
		t.Fatalf("Acquire after teardown: %v", err)
	}
	if !b.IsConnected() {
		t.Fatal("a fresh Acquire must dial again")
	}
	waitFor(t, "second dial", func() bool { return s.dialCount() == 2 })
}

func TestBridgeAttachesBearerToken(t *testing.T) {
	s := newWSServer(t)

	localStore := store.NewMemoryStore()
	_ = localStore.Set(types.StoreKeySessionToken, "tok-rt-1")

	b := newTestBridge(t, s.url(), localStore)
	if err := b.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	waitFor(t, "handshake", func() bool { return s.auth.Load() != nil })
	if got := s.auth.Load(); got != "Bearer tok-rt-1" {
		t.Fatalf("expected bearer header at dial time, got %v", got)
	}
}

func TestBridgeAcquireFailsWhenServerUnreachable(t *testing.T) {
	s := newWSServer(t)
	atomic.StoreInt32(&s.reject, 1)

	b := newTestBridge(t, s.url(), store.NewMemoryStore())

	if err := b.Acquire(); err == nil {
		t.Fatal("Acquire must surface the dial failure")
	}
	if b.Consumers() != 0 {
		t.Fatal("a failed Acquire must not leave a consumer attached")
	}
	if b.IsConnected() {
		t.Fatal("bridge must stay disconnected")
	}
}

func TestBridgeExhaustedReconnectParksStoppedAndReleasesCleanly(t *testing.T) {
	s := newWSServer(t)
	b := newTestBridge(t, s.url(), store.NewMemoryStore())

	if err := b.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	waitFor(t, "dial", func() bool { return s.dialCount() == 1 })

	// Kill the connection and refuse redials: the retry budget runs out
	// and the bridge parks.
	atomic.StoreInt32(&s.reject, 1)
	s.srv.CloseClientConnections()
	s.closeWebsockets()

	waitFor(t, "reconnect exhaustion", func() bool { return b.getState() == BridgeStateStopped })

	// The consumer is still attached; its detach is a normal one, not
	// an error.
	if b.Consumers() != 1 {
		t.Fatalf("expected the consumer to remain attached, got %d", b.Consumers())
	}
	if err := b.Release(); err != nil {
		t.Fatalf("Release after exhaustion must succeed, got %v", err)
	}
	if b.Consumers() != 0 {
		t.Fatalf("expected no consumers, got %d", b.Consumers())
	}

	// A later Acquire dials again once the server is back.
	atomic.StoreInt32(&s.reject, 0)
	if err := b.Acquire(); err != nil {
		t.Fatalf("Acquire after exhaustion: %v", err)
	}
	if !b.IsConnected() {
		t.Fatal("bridge must recover on the next Acquire")
	}
}
