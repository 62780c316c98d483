package limiter

import (
	"context"
	"sync"
	"time"
)

// Service owns one Authority per client identity, created on first
// use. Nothing reclaims an identity automatically, so idle entries are
// pruned after an idle timeout.
type Service struct {
	mu          sync.Mutex
	authorities map[string]*authorityEntry
	idleTimeout time.Duration
	now         func() time.Time
}

type authorityEntry struct {
	authority *Authority
	lastUsed  time.Time
}

// NewService creates an authority registry. Identities idle longer
// than idleTimeout are dropped on the next Prune pass.
func NewService(idleTimeout time.Duration) *Service {
	return &Service{
		authorities: make(map[string]*authorityEntry),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Get returns the authority for an identity, creating it on first use.
func (s *Service) Get(identity string) *Authority {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.authorities[identity]
	if !exists {
		entry = &authorityEntry{authority: NewAuthority()}
		s.authorities[identity] = entry
	}
	entry.lastUsed = s.now()
	return entry.authority
}

// Prune removes authorities that have been idle past the timeout.
// Dropping one only resets that identity's budget.
func (s *Service) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for identity, entry := range s.authorities {
		if now.Sub(entry.lastUsed) > s.idleTimeout {
			delete(s.authorities, identity)
			removed++
		}
	}
	return removed
}

// Size reports the number of tracked identities.
func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.authorities)
}

// Stub is a reference to a rate limiter authority, possibly remote.
// Check reports the advisory cooldown in seconds for the identity the
// stub is bound to.
type Stub interface {
	Check(ctx context.Context, write bool) (float64, error)
}

// Stub returns an in-process stub bound to one identity. The identity
// is resolved against the service on every call, so the stub stays
// valid across Prune cycles.
func (s *Service) Stub(identity string) Stub {
	return &localStub{service: s, identity: identity}
}

type localStub struct {
	service  *Service
	identity string
}

func (l *localStub) Check(_ context.Context, write bool) (float64, error) {
	return l.service.Get(l.identity).Check(write), nil
}
