package store

import (
	"testing"

	"go.uber.org/zap"

	"github.com/wanderlink/wander-sync/logger"
	"github.com/wanderlink/wander-sync/types"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()

	if _, ok := s.Get("missing"); ok {
		t.Fatal("missing key must report absence")
	}

	if err := s.Set("session_token", "tok-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok := s.Get("session_token")
	if !ok || value != "tok-1" {
		t.Fatalf("expected tok-1, got %q/%v", value, ok)
	}

	if err := s.Set("session_token", "tok-2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if value, _ := s.Get("session_token"); value != "tok-2" {
		t.Fatal("Set must overwrite")
	}

	if err := s.Delete("session_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("session_token"); ok {
		t.Fatal("deleted key must be gone")
	}
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	s := NewMemoryStore()

	if err := s.Set("", "value"); !types.IsError(err, types.ErrStoreKeyEmpty) {
		t.Fatalf("expected ErrStoreKeyEmpty, got %v", err)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Set("k", "v")
	_ = s.Close()

	if _, ok := s.Get("k"); ok {
		t.Fatal("closed store must not serve reads")
	}
	if err := s.Set("k", "v"); !types.IsError(err, types.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.Delete("k"); !types.IsError(err, types.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestNewLocalStoreFactory(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	s, err := NewLocalStore(log, &types.StoreConfig{Type: ""})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("empty type must default to memory, got %T", s)
	}

	if _, err := NewLocalStore(log, &types.StoreConfig{Type: "etched-in-stone"}); !types.IsError(err, types.ErrStoreTypeUnknown) {
		t.Fatalf("expected ErrStoreTypeUnknown, got %v", err)
	}
}

func TestRegisterLocalStore(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	RegisterLocalStore("custom-test", func(config *types.StoreConfig) (types.LocalStore, error) {
		return NewMemoryStore(), nil
	})

	s, err := NewLocalStore(log, &types.StoreConfig{Type: "custom-test"})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if s == nil {
		t.Fatal("custom creator must be used")
	}
}
