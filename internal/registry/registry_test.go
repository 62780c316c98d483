package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"roomchat/internal/room"
	"roomchat/internal/storage"
)

type nullStore struct{}

func (nullStore) Append(ctx context.Context, room, key string, payload []byte) error { return nil }
func (nullStore) Recent(ctx context.Context, room string, n int) ([][]byte, error) {
	return nil, nil
}
func (nullStore) SaveCheckpoint(ctx context.Context, cp storage.Checkpoint) error { return nil }
func (nullStore) LoadCheckpoint(ctx context.Context, token string) (*storage.Checkpoint, error) {
	return nil, storage.ErrCheckpointNotFound
}
func (nullStore) DeleteCheckpoint(ctx context.Context, token string) error { return nil }

type nullConn struct {
	id int
}

func (*nullConn) Send(data []byte) error { return nil }

func (*nullConn) CloseWithCode(code int, reason string) error { return nil }

type allowLimiter struct{}

func (allowLimiter) CheckLimit() bool { return true }

func testFactory(name string) *room.Room {
	limiters := func(identity string, reportError func(error)) (room.LimiterClient, error) {
		return allowLimiter{}, nil
	}
	return room.New(name, nullStore{}, limiters, 100, zerolog.Nop())
}

func TestRegistry_CreateOnFirstUse(t *testing.T) {
	reg := New(testFactory, time.Minute, zerolog.Nop())

	first := reg.Get("lobby")
	if first == nil {
		t.Fatal("expected a room authority")
	}
	if first.Name() != "lobby" {
		t.Errorf("room name = %q, want lobby", first.Name())
	}
	if second := reg.Get("lobby"); second != first {
		t.Error("same name must resolve to the same authority")
	}
	if other := reg.Get("kitchen"); other == first {
		t.Error("distinct names must resolve to distinct authorities")
	}
}

func TestRegistry_PruneEvictsOnlyIdleEmptyRooms(t *testing.T) {
	reg := New(testFactory, 10*time.Millisecond, zerolog.Nop())

	idle := reg.Get("idle")
	busy := reg.Get("busy")
	if _, err := busy.Attach(context.Background(), &nullConn{}, "10.0.0.1", ""); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	if evicted := reg.Prune(); evicted != 1 {
		t.Fatalf("evicted %d rooms, want 1", evicted)
	}
	if reg.Get("busy") != busy {
		t.Error("occupied room must survive pruning")
	}
	if reg.Get("idle") == idle {
		t.Error("idle room should have been evicted and recreated fresh")
	}
}

func TestRegistry_PruneKeepsRecentlyActiveRooms(t *testing.T) {
	reg := New(testFactory, time.Hour, zerolog.Nop())
	reg.Get("lobby")

	if evicted := reg.Prune(); evicted != 0 {
		t.Errorf("evicted %d rooms, want 0", evicted)
	}
}

func TestRegistry_Stats(t *testing.T) {
	reg := New(testFactory, time.Minute, zerolog.Nop())

	lobby := reg.Get("lobby")
	reg.Get("kitchen")
	for i := 0; i < 3; i++ {
		if _, err := lobby.Attach(context.Background(), &nullConn{id: i}, "10.0.0.1", ""); err != nil {
			t.Fatalf("attach failed: %v", err)
		}
	}

	stats := reg.Stats()
	if stats["rooms"] != 2 {
		t.Errorf("rooms = %d, want 2", stats["rooms"])
	}
	if stats["sessions"] != 3 {
		t.Errorf("sessions = %d, want 3", stats["sessions"])
	}
}
