package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store is the durable log shared by all rooms in the process. Each
// room's entries are scoped by room name; only that room's authority
// reads or writes them.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Checkpoint is the minimal session metadata persisted at naming time
// so a reconnecting client can be restored without a fresh naming
// frame.
type Checkpoint struct {
	Token    string
	Room     string
	Name     string
	Identity string
}

// NewStore opens the SQLite store at path and prepares the schema.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	// SQLite tolerates one writer at a time; reads stay concurrent.
	db.SetMaxOpenConns(4)

	s := &Store{
		db:           db,
		log:          log,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop serializes all writes through a single goroutine, retrying
// a failed write once before giving up.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				s.log.Warn().Err(err).Msg("write failed, retrying once")
				err = op.operation(s.db)
				if err != nil {
					s.log.Error().Err(err).Msg("write failed after retry")
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// Append durably records one serialized message under its timestamp
// key.
func (s *Store) Append(ctx context.Context, room, key string, payload []byte) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR REPLACE INTO messages (room, key, payload) VALUES (?, ?, ?)`,
			room, key, string(payload),
		)
		if err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		return nil
	})
}

// Recent returns up to n most recent entries for a room in
// chronological order (oldest of the batch first).
func (s *Store) Recent(ctx context.Context, room string, n int) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE room = ? ORDER BY key DESC LIMIT ?`,
		room, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var payloads [][]byte
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		payloads = append(payloads, []byte(payload))
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	// Reverse the reverse-ordered scan so callers replay oldest first.
	for i, j := 0, len(payloads)-1; i < j; i, j = i+1, j-1 {
		payloads[i], payloads[j] = payloads[j], payloads[i]
	}
	return payloads, nil
}

// SaveCheckpoint records session metadata keyed by resume token.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR REPLACE INTO checkpoints (token, room, name, identity, updated_at) VALUES (?, ?, ?, ?, ?)`,
			cp.Token, cp.Room, cp.Name, cp.Identity, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
}

// LoadCheckpoint retrieves session metadata by resume token.
func (s *Store) LoadCheckpoint(ctx context.Context, token string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, room, name, identity FROM checkpoints WHERE token = ?`, token)

	var cp Checkpoint
	err := row.Scan(&cp.Token, &cp.Room, &cp.Name, &cp.Identity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes a checkpoint after a clean close.
func (s *Store) DeleteCheckpoint(ctx context.Context, token string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM checkpoints WHERE token = ?`, token)
		if err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
		return nil
	})
}

// PruneCheckpoints drops checkpoints older than maxAge.
func (s *Store) PruneCheckpoints(ctx context.Context, maxAge time.Duration) error {
	return s.executeWrite(func(db *sql.DB) error {
		cutoff := time.Now().UTC().Add(-maxAge)
		_, err := db.ExecContext(ctx, `DELETE FROM checkpoints WHERE updated_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune checkpoints: %w", err)
		}
		return nil
	})
}

// HealthCheck validates connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM messages LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains the write loop and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
