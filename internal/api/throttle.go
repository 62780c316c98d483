package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle applies a token bucket per client origin to the HTTP edge
// (room minting and upgrade requests). This is separate from the
// in-room cooldown limiter, which governs chat sends.
type throttle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newThrottle(perSecond float64, burst int) *throttle {
	return &throttle{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

func (t *throttle) allow(origin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, exists := t.buckets[origin]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[origin] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// cleanup drops buckets idle past maxIdle.
func (t *throttle) cleanup(maxIdle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for origin, b := range t.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(t.buckets, origin)
		}
	}
}
