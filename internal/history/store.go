// Package history persists connection lifecycle events to SQLite so
// operators can audit connect attempts, cycle failures and join
// timeouts after the fact. Use ":memory:" for tests.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/armbridge/armbridge/internal/bridge"
)

// Store implements bridge.Recorder on top of SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the event store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		port INTEGER,
		host TEXT,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record implements bridge.Recorder.
func (s *Store) Record(ev bridge.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	when := ev.Time
	if when.IsZero() {
		when = time.Now()
	}
	_, err := s.db.Exec(
		"INSERT INTO events (time, session_id, type, port, host, detail) VALUES (?, ?, ?, ?, ?, ?)",
		when.UnixMilli(), ev.SessionID, string(ev.Type), ev.Port, ev.Host, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]bridge.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT time, session_id, type, port, host, detail FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// BySession returns all events for one session, oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]bridge.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT time, session_id, type, port, host, detail FROM events WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]bridge.Event, error) {
	var events []bridge.Event
	for rows.Next() {
		var (
			ev     bridge.Event
			millis int64
			typ    string
		)
		if err := rows.Scan(&millis, &ev.SessionID, &typ, &ev.Port, &ev.Host, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Time = time.UnixMilli(millis)
		ev.Type = bridge.EventType(typ)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
