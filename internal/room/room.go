package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roomchat/internal/storage"
	"roomchat/pkg/protocol"
)

// Close codes used toward clients. Policy violations are
// distinguishable from generic server faults.
const (
	ClosePolicyViolation = 1009
	CloseInternalError   = 1011
)

// Conn is the transport handle a room holds for one connection. Send
// must not block; a Send error means the connection is dead.
type Conn interface {
	Send(data []byte) error
	CloseWithCode(code int, reason string) error
}

// LimiterClient answers the synchronous "may this connection send"
// question.
type LimiterClient interface {
	CheckLimit() bool
}

// LimiterFactory builds a limiter client bound to a connection's
// claimed identity. reportError is invoked if the limiter's backing
// authority becomes unrecoverably unreachable.
type LimiterFactory func(identity string, reportError func(error)) (LimiterClient, error)

// Store is the durable state a room depends on: its append-only log
// and the session checkpoints.
type Store interface {
	Append(ctx context.Context, room, key string, payload []byte) error
	Recent(ctx context.Context, room string, n int) ([][]byte, error)
	SaveCheckpoint(ctx context.Context, cp storage.Checkpoint) error
	LoadCheckpoint(ctx context.Context, token string) (*storage.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, token string) error
}

// Room is the authority for one chat room: it owns every live
// connection, the ordering clock, and access to the room's durable
// log. All inbound events for a room are serialized under one mutex;
// the broadcast fan-out runs as a single uninterrupted step so two
// accepted messages reach all sessions in timestamp order.
type Room struct {
	name        string
	store       Store
	limiters    LimiterFactory
	replayLimit int
	log         zerolog.Logger

	mu            sync.Mutex
	sessions      map[Conn]*Session
	lastTimestamp int64
	lastActive    time.Time

	now func() time.Time
}

// New creates the authority for one room name. The ordering clock is
// seeded conservatively from "now": log keys already order historical
// entries, so a revived room only needs to never go backward.
func New(name string, store Store, limiters LimiterFactory, replayLimit int, log zerolog.Logger) *Room {
	now := time.Now
	return &Room{
		name:          name,
		store:         store,
		limiters:      limiters,
		replayLimit:   replayLimit,
		log:           log.With().Str("room", name).Logger(),
		sessions:      make(map[Conn]*Session),
		lastTimestamp: now().UnixMilli(),
		lastActive:    now(),
		now:           now,
	}
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// SessionCount reports the number of attached sessions.
func (r *Room) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// LastActive reports when the room last processed an event.
func (r *Room) LastActive() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive
}

// Attach creates a session for a new connection. The session starts
// unnamed: joined notices for every currently named peer and up to
// replayLimit recent log entries are queued, not sent, until the
// client names itself. A resume token matching a checkpoint for this
// room restores the session straight to named. Returns the session's
// resume token.
func (r *Room) Attach(ctx context.Context, conn Conn, identity, resumeToken string) (string, error) {
	limiter, err := r.limiters(identity, func(err error) {
		// The limiter never stalls the connection it governs; on
		// persistent authority failure the connection is terminated.
		_ = conn.CloseWithCode(CloseInternalError, "rate limiter unavailable")
	})
	if err != nil {
		return "", fmt.Errorf("failed to bind rate limiter: %w", err)
	}

	session := &Session{
		conn:     conn,
		identity: identity,
		limiter:  limiter,
	}

	if resumeToken != "" {
		cp, err := r.store.LoadCheckpoint(ctx, resumeToken)
		if err == nil && cp.Room == r.name {
			session.token = cp.Token
			session.name = cp.Name
		} else if err != nil && !errors.Is(err, storage.ErrCheckpointNotFound) {
			r.log.Warn().Err(err).Msg("checkpoint lookup failed, attaching fresh")
		}
	}
	if session.token == "" {
		session.token = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = r.now()

	for _, other := range r.sessions {
		if other.name != "" {
			session.blockedMessages = append(session.blockedMessages,
				protocol.JoinedNotice(other.name).Encode())
		}
	}

	backlog, err := r.store.Recent(ctx, r.name, r.replayLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	session.blockedMessages = append(session.blockedMessages, backlog...)

	r.sessions[conn] = session

	if session.name != "" {
		// Restored sessions skip the naming frame: replay, announce,
		// and signal readiness immediately.
		r.becomeNamedLocked(session)
	}

	r.log.Debug().Str("identity", identity).Bool("restored", session.name != "").
		Msg("session attached")
	return session.token, nil
}

// HandleFrame processes one inbound client frame. Every failure on
// this path is recoverable: it produces an error notice to the
// originating connection or a silent drop, never a room-wide fault.
func (r *Room) HandleFrame(ctx context.Context, conn Conn, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = r.now()

	session, exists := r.sessions[conn]
	if !exists {
		return
	}

	if session.quit {
		// A frame arrived after teardown began.
		_ = conn.CloseWithCode(CloseInternalError, "connection already closed")
		return
	}

	in, err := protocol.DecodeInbound(data)
	if err != nil {
		r.sendError(session, "Malformed message.")
		return
	}

	if session.name == "" {
		r.handleNamingLocked(ctx, session, in)
		return
	}

	r.handleChatLocked(ctx, session, in)
}

// handleNamingLocked runs the unnamed -> named transition.
func (r *Room) handleNamingLocked(ctx context.Context, session *Session, in protocol.Inbound) {
	name := in.Name
	if name == "" {
		name = protocol.DefaultName
	}

	if err := protocol.ValidateName(name); err != nil {
		// Policy violation: the session never becomes named.
		r.sendError(session, "Name too long.")
		_ = session.conn.CloseWithCode(ClosePolicyViolation, "Name too long.")
		return
	}

	session.name = name

	if err := r.store.SaveCheckpoint(ctx, storage.Checkpoint{
		Token:    session.token,
		Room:     r.name,
		Name:     session.name,
		Identity: session.identity,
	}); err != nil {
		r.log.Warn().Err(err).Msg("failed to checkpoint session")
	}

	r.becomeNamedLocked(session)
	r.log.Info().Str("name", session.name).Msg("session named")
}

// becomeNamedLocked flushes the blocked queue in order, announces the
// session to every other session, and sends the single ready notice.
// Ready is sent exactly once per connection, always after the flush.
func (r *Room) becomeNamedLocked(session *Session) {
	for _, queued := range session.blockedMessages {
		if err := session.conn.Send(queued); err != nil {
			r.log.Debug().Err(err).Msg("replay delivery failed")
			break
		}
	}
	session.blockedMessages = nil

	r.broadcastLocked(protocol.JoinedNotice(session.name).Encode(), session)

	if err := session.conn.Send(protocol.ReadyNotice(session.token).Encode()); err != nil {
		r.log.Debug().Err(err).Msg("ready delivery failed")
	}
}

// handleChatLocked runs a chat-send attempt for a named session.
func (r *Room) handleChatLocked(ctx context.Context, session *Session, in protocol.Inbound) {
	if !session.limiter.CheckLimit() {
		r.sendError(session, "Your IP is being rate-limited, please try again later.")
		return
	}

	if err := protocol.ValidateMessageText(in.Message); err != nil {
		// Oversized messages are dropped without disconnection.
		r.sendError(session, "Message too long.")
		return
	}

	timestamp := r.nextTimestampLocked()
	payload := protocol.Chat(session.name, in.Message, timestamp).Encode()

	r.broadcastLocked(payload, nil)

	key := time.UnixMilli(timestamp).UTC().Format("2006-01-02T15:04:05.000Z")
	if err := r.store.Append(ctx, r.name, key, payload); err != nil {
		// Recoverable: the sender alone learns about it.
		r.log.Error().Err(err).Msg("failed to persist message")
		r.sendError(session, "Failed to store message.")
	}
}

// nextTimestampLocked assigns a strictly increasing millisecond
// timestamp: monotonic under same-tick arrivals and backward wall
// clock jumps alike.
func (r *Room) nextTimestampLocked() int64 {
	timestamp := r.now().UnixMilli()
	if timestamp <= r.lastTimestamp {
		timestamp = r.lastTimestamp + 1
	}
	r.lastTimestamp = timestamp
	return timestamp
}

// broadcastLocked fans one payload out to every session except the
// optional sender of a joined notice. Named sessions get a delivery
// attempt; unnamed sessions queue the payload for their naming flush.
// Dead sessions discovered mid-pass are collected and their quit
// notices broadcast only after the pass completes, so the fan-out
// never reentrantly mutates the iteration.
func (r *Room) broadcastLocked(payload []byte, except *Session) {
	var quitters []*Session

	for conn, session := range r.sessions {
		if session == except {
			continue
		}
		if session.name == "" {
			session.blockedMessages = append(session.blockedMessages, payload)
			continue
		}
		if err := session.conn.Send(payload); err != nil {
			session.quit = true
			delete(r.sessions, conn)
			quitters = append(quitters, session)
		}
	}

	for _, quitter := range quitters {
		r.log.Debug().Str("name", quitter.name).Msg("session dropped during broadcast")
		if quitter.name != "" {
			r.broadcastLocked(protocol.QuitNotice(quitter.name).Encode(), nil)
		}
	}
}

// Detach removes a connection's session after close or error. It is
// idempotent. A clean detach also discards the session checkpoint; an
// unclean one keeps it so the client can resume.
func (r *Room) Detach(ctx context.Context, conn Conn, clean bool) {
	r.mu.Lock()
	session, exists := r.sessions[conn]
	if !exists {
		r.mu.Unlock()
		return
	}
	session.quit = true
	delete(r.sessions, conn)
	r.lastActive = r.now()

	if session.name != "" {
		r.broadcastLocked(protocol.QuitNotice(session.name).Encode(), nil)
	}
	r.mu.Unlock()

	if clean && session.name != "" {
		if err := r.store.DeleteCheckpoint(ctx, session.token); err != nil {
			r.log.Warn().Err(err).Msg("failed to delete checkpoint")
		}
	}

	r.log.Debug().Str("name", session.name).Bool("clean", clean).Msg("session detached")
}

func (r *Room) sendError(session *Session, text string) {
	if err := session.conn.Send(protocol.ErrorNotice(text).Encode()); err != nil {
		r.log.Debug().Err(err).Msg("error notice delivery failed")
	}
}
