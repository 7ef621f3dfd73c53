// Package offline persists events raised while the display has no
// server connection and replays them in order on reconnect.
package offline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT    NOT NULL,
	payload     BLOB    NOT NULL,
	enqueued_at TEXT    NOT NULL
);`

// Event is one queued record awaiting delivery.
type Event struct {
	ID         int64
	Type       string
	Payload    []byte
	EnqueuedAt time.Time
}

// Sender delivers one event to the server. A non-nil error halts the
// current drain; the event stays queued.
type Sender func(ctx context.Context, ev Event) error

// Queue is a durable FIFO backed by SQLite. Events survive process
// restarts and are deleted only after confirmed delivery.
type Queue struct {
	db     *sql.DB
	logger zerolog.Logger

	mu      sync.Mutex
	pending int
}

// Open opens or creates the queue database at path. Use ":memory:"
// for an ephemeral queue in tests.
func Open(path string, logger zerolog.Logger) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	q := &Queue{db: db, logger: logger}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM event_queue`).Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("count queued events: %w", err)
	}
	q.pending = count
	if count > 0 {
		logger.Info().Int("pending", count).Str("path", path).Msg("offline queue has undelivered events")
	}
	return q, nil
}

// Enqueue appends one event.
func (q *Queue) Enqueue(ctx context.Context, eventType string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO event_queue (event_type, payload, enqueued_at) VALUES (?, ?, ?)`,
		eventType, payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	q.pending++
	return nil
}

// PendingCount reports the number of undelivered events without
// touching the database.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// ProcessQueue drains the queue in insertion order through send. Each
// event is deleted only after send returns nil; the first failure
// stops the drain so ordering is preserved across retries. Returns the
// number of delivered events, the number left queued, and the error
// that stopped the drain, if any.
func (q *Queue) ProcessQueue(ctx context.Context, send Sender) (processed, remaining int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return processed, q.pending, err
		}

		ev, ok, err := q.oldestLocked(ctx)
		if err != nil {
			return processed, q.pending, err
		}
		if !ok {
			return processed, 0, nil
		}

		if err := send(ctx, ev); err != nil {
			q.logger.Warn().Err(err).Int64("event_id", ev.ID).Str("event_type", ev.Type).
				Msg("event delivery failed, stopping drain")
			return processed, q.pending, err
		}

		if _, err := q.db.ExecContext(ctx, `DELETE FROM event_queue WHERE id = ?`, ev.ID); err != nil {
			return processed, q.pending, fmt.Errorf("delete delivered event: %w", err)
		}
		q.pending--
		processed++
	}
}

func (q *Queue) oldestLocked(ctx context.Context) (Event, bool, error) {
	var (
		ev Event
		at string
	)
	row := q.db.QueryRowContext(ctx,
		`SELECT id, event_type, payload, enqueued_at FROM event_queue ORDER BY id ASC LIMIT 1`)
	if err := row.Scan(&ev.ID, &ev.Type, &ev.Payload, &at); err != nil {
		if err == sql.ErrNoRows {
			return Event{}, false, nil
		}
		return Event{}, false, fmt.Errorf("read oldest event: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
		ev.EnqueuedAt = t
	}
	return ev, true, nil
}

// Close closes the backing database.
func (q *Queue) Close() error {
	return q.db.Close()
}
