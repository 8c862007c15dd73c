package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

const eventColumns = "id, run_id, event_type, recorded_at, payload, metadata"

const schema = `
CREATE TABLE IF NOT EXISTS run_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	event_type  TEXT    NOT NULL,
	recorded_at INTEGER NOT NULL,
	payload     BLOB    NOT NULL,
	metadata    TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, id);
CREATE INDEX IF NOT EXISTS idx_run_events_recorded_at ON run_events(recorded_at);
`

// SQLiteStore keeps run events in a SQLite table. Timestamps are stored in
// milliseconds so the transitions of one tick stay ordered by time.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
	mu    sync.RWMutex
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock sets the clock used to timestamp appended events.
func WithClock(c clockwork.Clock) Option {
	return func(s *SQLiteStore) { s.clock = c }
}

// NewSQLiteStore opens the event database at dbPath, creating its directory and
// schema as needed. ":memory:" gives a private in-memory database.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create event store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Append stores e stamped with the store's clock.
func (s *SQLiteStore) Append(ctx context.Context, e Event) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO run_events (run_id, event_type, recorded_at, payload, metadata) VALUES (?, ?, ?, ?, ?)",
		e.RunID, e.Type, s.clock.Now().UnixMilli(), payload, meta)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByRunID(ctx context.Context, runID string) ([]Event, error) {
	return s.query(ctx, "run_id = ?", runID)
}

// GetRange returns the events recorded in [start, end], oldest first.
func (s *SQLiteStore) GetRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	return s.query(ctx, "recorded_at BETWEEN ? AND ?", start.UnixMilli(), end.UnixMilli())
}

// Prune deletes every event of runs whose last event is older than before and
// returns the number of events removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM run_events WHERE run_id IN (
			SELECT run_id FROM run_events GROUP BY run_id HAVING MAX(recorded_at) < ?
		)`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) query(ctx context.Context, where string, args ...any) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM run_events WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		e       Event
		ms      int64
		payload []byte
		meta    []byte
	)
	if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &ms, &payload, &meta); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.RecordedAt = time.UnixMilli(ms)
	e.Payload = payload
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return Event{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return e, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
