package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomchat/internal/room"
)

// Factory builds the authority for a room name on first use.
type Factory func(name string) *room.Room

// Registry maps room names to their owning authorities: one room, one
// authority, created on first use. Nothing reclaims an authority
// automatically, so rooms that have been empty past the idle timeout
// are evicted by Prune; durable state stays in storage, so eviction
// loses nothing.
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*room.Room
	factory     Factory
	idleTimeout time.Duration
	log         zerolog.Logger
}

// New creates an empty room registry.
func New(factory Factory, idleTimeout time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		rooms:       make(map[string]*room.Room),
		factory:     factory,
		idleTimeout: idleTimeout,
		log:         log,
	}
}

// Get returns the authority for a room name, creating it on first use.
func (r *Registry) Get(name string) *room.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[name]
	if !exists {
		rm = r.factory(name)
		r.rooms[name] = rm
		r.log.Info().Str("room", name).Msg("room created")
	}
	return rm
}

// Prune evicts rooms with no sessions that have been idle past the
// timeout. Rooms with live sessions are never evicted.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	evicted := 0
	for name, rm := range r.rooms {
		if rm.SessionCount() == 0 && now.Sub(rm.LastActive()) > r.idleTimeout {
			delete(r.rooms, name)
			evicted++
			r.log.Info().Str("room", name).Msg("idle room evicted")
		}
	}
	return evicted
}

// Stats reports registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := 0
	for _, rm := range r.rooms {
		sessions += rm.SessionCount()
	}
	return map[string]int{
		"rooms":    len(r.rooms),
		"sessions": sessions,
	}
}
