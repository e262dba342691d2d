// Package sqlite provides a durable core.ThreadStore backed by a SQLite file,
// using the pure Go modernc.org/sqlite driver.
//
// Each event is stored as one JSON row keyed by (thread_id, seq), so saving a
// grown thread only writes the new rows and saving an unchanged thread writes
// nothing.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS thread_events (
	thread_id TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	kind      TEXT    NOT NULL,
	payload   TEXT    NOT NULL,
	PRIMARY KEY (thread_id, seq)
);
`

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
}

// Interface compliance (compile-time assertion)
var (
	_ core.ThreadStore   = (*Store)(nil)
	_ core.StatsReporter = (*Store)(nil)
)

// Options configures a Store.
type Options struct {
	Logger logging.Logger
	// Now stamps updated_at. Defaults to time.Now.
	Now func() time.Time
}

// Store is a ThreadStore persisting to SQLite. Writes are serialized through
// a single connection, so concurrent saves of the same id resolve as last
// writer wins.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	opts Options
}

// Open opens (creating if missing) the database at path and applies the schema.
func Open(ctx context.Context, path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}, Now: time.Now}

	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}

	return &Store{db: db, opts: opts}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Load reads the thread and its events in order.
func (s *Store) Load(ctx context.Context, id string) (core.Thread, error) {
	var created string

	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM threads WHERE id = ?`, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Thread{}, fmt.Errorf("%w: %s", core.ErrThreadNotFound, id)
	}

	if err != nil {
		return core.Thread{}, err
	}

	createdAt, err := time.Parse(timeLayout, created)
	if err != nil {
		return core.Thread{}, fmt.Errorf("sqlite: thread %s: bad created_at: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq, payload FROM thread_events WHERE thread_id = ? ORDER BY seq`, id)
	if err != nil {
		return core.Thread{}, err
	}
	defer rows.Close()

	var events []core.Event

	for rows.Next() {
		var (
			seq     int
			payload string
		)

		if err := rows.Scan(&seq, &payload); err != nil {
			return core.Thread{}, err
		}

		if seq != len(events) {
			return core.Thread{}, fmt.Errorf("sqlite: thread %s: gap at event %d", id, len(events))
		}

		var e core.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return core.Thread{}, fmt.Errorf("sqlite: thread %s event %d: %w", id, seq, err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return core.Thread{}, err
	}

	return core.RestoreThread(id, createdAt, events), nil
}

// Save writes the thread in one transaction. Rows that already hold the same
// event are left untouched and rows past the thread's length are removed, so
// the stored thread always equals the saved value.
func (s *Store) Save(ctx context.Context, t core.Thread) error {
	if t.ID() == "" {
		return errors.New("sqlite: cannot save thread without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.opts.Now().UTC().Format(timeLayout)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		t.ID(), t.CreatedAt().UTC().Format(timeLayout), now)
	if err != nil {
		return err
	}

	changed := affected(res)

	for i, e := range t.Events() {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("sqlite: encoding event %d: %w", i, err)
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO thread_events (thread_id, seq, kind, payload) VALUES (?, ?, ?, ?)
ON CONFLICT(thread_id, seq) DO UPDATE SET kind = excluded.kind, payload = excluded.payload
WHERE thread_events.payload <> excluded.payload`,
			t.ID(), i, string(e.Kind), string(payload))
		if err != nil {
			return err
		}

		changed += affected(res)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM thread_events WHERE thread_id = ? AND seq >= ?`, t.ID(), t.Len())
	if err != nil {
		return err
	}

	changed += affected(res)

	if changed > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, now, t.ID()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.opts.Logger.Debug("sqlite.save", "thread_id", t.ID(), "events", t.Len(), "changed_rows", changed)

	return nil
}

// Delete removes the thread and its events. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_events WHERE thread_id = ?`, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// List returns a summary of every stored thread, most recently updated first.
func (s *Store) List(ctx context.Context) ([]core.ThreadInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.created_at, t.updated_at, COUNT(e.seq)
FROM threads t LEFT JOIN thread_events e ON e.thread_id = t.id
GROUP BY t.id
ORDER BY t.updated_at DESC, t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ThreadInfo

	for rows.Next() {
		var (
			info             core.ThreadInfo
			created, updated string
		)

		if err := rows.Scan(&info.ID, &created, &updated, &info.EventCount); err != nil {
			return nil, err
		}

		info.CreatedAt, _ = time.Parse(timeLayout, created)
		info.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, info)
	}

	return out, rows.Err()
}

// Stats implements core.StatsReporter with aggregate queries. SizeBytes is
// the logical database size, page_count times page_size.
func (s *Store) Stats(ctx context.Context) (core.StoreStats, error) {
	var (
		st      core.StoreStats
		updated sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(updated_at) FROM threads`).Scan(&st.Threads, &updated)
	if err != nil {
		return core.StoreStats{}, fmt.Errorf("sqlite: stats: %w", err)
	}

	if updated.Valid {
		st.LastActivity, _ = time.Parse(timeLayout, updated.String)
	}

	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN kind IN (?, ?) THEN 1 ELSE 0 END), 0)
FROM thread_events`, string(core.EventUserMessage), string(core.EventAssistantMessage)).Scan(&st.Events, &st.Messages)
	if err != nil {
		return core.StoreStats{}, fmt.Errorf("sqlite: stats: %w", err)
	}

	var pages, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return core.StoreStats{}, fmt.Errorf("sqlite: stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return core.StoreStats{}, fmt.Errorf("sqlite: stats: %w", err)
	}

	st.SizeBytes = pages * pageSize

	return st, nil
}

// Backup writes a consistent copy of the database to path.
func (s *Store) Backup(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer logging.StartTimer(s.opts.Logger, "sqlite.backup", "path", path)()

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("sqlite: backup to %s: %w", path, err)
	}

	return nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
