package room

// Session is the per-connection state owned by one room. A session is
// created unnamed at attach time, transitions to named at most once,
// and is removed from the room when the connection is known gone.
type Session struct {
	conn     Conn
	token    string // resume token, also the checkpoint key
	identity string // claimed network origin, binds the limiter
	name     string // unset until the first client frame
	limiter  LimiterClient

	// Outbound payloads held while the session is unnamed: joined
	// notices for current peers, the history backlog, and anything
	// broadcast in between. Flushed in order at naming, then dropped.
	blockedMessages [][]byte

	// quit is set exactly once when the connection is known gone. A
	// session never leaves this state.
	quit bool
}

// Name returns the session name, or empty while unnamed.
func (s *Session) Name() string { return s.name }

// Token returns the session's resume token.
func (s *Session) Token() string { return s.token }
