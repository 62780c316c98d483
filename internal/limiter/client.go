package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Resolver returns a fresh stub for the client's bound identity. It is
// invoked once at construction and again when a check against the
// current stub fails.
type Resolver func() (Stub, error)

// Client is the in-room helper that answers "may this connection send
// right now" without ever blocking on the authority round-trip. The
// inCooldown flag is the mutual-exclusion gate: at most one
// reconciliation is in flight, and callers arriving during cooldown
// get an O(1) rejection instead of waiting.
type Client struct {
	resolve     Resolver
	reportError func(error)
	log         zerolog.Logger

	mu         sync.Mutex
	stub       Stub
	inCooldown bool

	sleep func(time.Duration) // injectable for tests
}

// NewClient binds a client to an identity via its resolver. The error
// handler is invoked on unrecoverable reconciliation failure; it may
// decide to terminate the governed connection, the limiter itself
// never does. After such a failure the cooldown gate stays shut
// permanently and every later CheckLimit returns false, so a handler
// that keeps the connection alive leaves it unable to send.
func NewClient(resolve Resolver, reportError func(error), log zerolog.Logger) (*Client, error) {
	stub, err := resolve()
	if err != nil {
		return nil, err
	}
	return &Client{
		resolve:     resolve,
		reportError: reportError,
		log:         log,
		stub:        stub,
		sleep:       time.Sleep,
	}, nil
}

// CheckLimit reports whether the caller may send now. A true result
// consumes one slot and kicks off asynchronous reconciliation with the
// authority; a false result means the previous reconciliation has not
// finished and the message must be rejected.
func (c *Client) CheckLimit() bool {
	c.mu.Lock()
	if c.inCooldown {
		c.mu.Unlock()
		return false
	}
	c.inCooldown = true
	c.mu.Unlock()

	go c.reconcile()
	return true
}

// reconcile performs the authority round-trip: one check, one retry
// against a freshly resolved stub on failure, then a wait for the
// returned cooldown before the gate opens again. On unrecoverable
// failure the gate stays shut and the error handler decides.
func (c *Client) reconcile() {
	ctx := context.Background()

	c.mu.Lock()
	stub := c.stub
	c.mu.Unlock()

	cooldown, err := stub.Check(ctx, true)
	if err != nil {
		c.log.Warn().Err(err).Msg("limiter check failed, re-resolving authority")

		stub, rerr := c.resolve()
		if rerr != nil {
			c.fail(rerr)
			return
		}
		c.mu.Lock()
		c.stub = stub
		c.mu.Unlock()

		cooldown, err = stub.Check(ctx, true)
		if err != nil {
			c.fail(err)
			return
		}
	}

	if cooldown > 0 {
		c.sleep(time.Duration(cooldown * float64(time.Second)))
	}

	c.mu.Lock()
	c.inCooldown = false
	c.mu.Unlock()
}

func (c *Client) fail(err error) {
	c.log.Error().Err(err).Msg("limiter authority unreachable")
	if c.reportError != nil {
		c.reportError(err)
	}
}
