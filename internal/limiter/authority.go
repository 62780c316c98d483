package limiter

import (
	"sync"
	"time"
)

// Cooldown arithmetic: every accepted send reserves a 5 second slot,
// and the 20 second grace window lets a client queue roughly four
// sends before it is told to wait.
const (
	writeSlotSeconds = 5.0
	graceSeconds     = 20.0
)

// Authority tracks the send-cooldown clock for one client identity.
// All checks from the same identity must reach the same instance; the
// Service keeps that mapping stable.
type Authority struct {
	mu              sync.Mutex
	nextAllowedTime float64 // seconds since epoch
	now             func() time.Time
}

// NewAuthority creates an authority with an empty budget. State is
// process-local; a restart resets the budget.
func NewAuthority() *Authority {
	return &Authority{now: time.Now}
}

// Check advances the cooldown clock and reports how long the caller
// should wait before its next check. A write check reserves one send
// slot; a read check only observes. The returned value is advisory
// client-side backoff, not a hard server-side block.
func (a *Authority) Check(write bool) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := float64(a.now().UnixNano()) / float64(time.Second)

	// The clock never decreases except by clamping up to now once the
	// cooldown has naturally elapsed.
	if a.nextAllowedTime < now {
		a.nextAllowedTime = now
	}

	if write {
		a.nextAllowedTime += writeSlotSeconds
	}

	cooldown := a.nextAllowedTime - now - graceSeconds
	if cooldown < 0 {
		cooldown = 0
	}
	return cooldown
}
