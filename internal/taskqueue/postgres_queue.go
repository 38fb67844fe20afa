package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresQueue implements Queue using a PostgreSQL table.
//
// Schema (created automatically if missing):
//
//	CREATE TABLE IF NOT EXISTS action_tasks (
//	    id           TEXT PRIMARY KEY,
//	    conductor_id TEXT NOT NULL,
//	    not_before   TIMESTAMPTZ NOT NULL,
//	    payload      BYTEA NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Due tasks are claimed in not_before order.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// Ensure PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

// NewPostgresQueue creates the required schema if needed and returns a Queue.
func NewPostgresQueue(db *sql.DB) (*PostgresQueue, error) {
	q := &PostgresQueue{db: db, pollInterval: 100 * time.Millisecond}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *PostgresQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS action_tasks (
			id           TEXT PRIMARY KEY,
			conductor_id TEXT NOT NULL,
			not_before   TIMESTAMPTZ NOT NULL,
			payload      BYTEA NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_action_tasks_not_before ON action_tasks(not_before, created_at);
	`)
	return err
}

// Enqueue inserts a task. Tasks need a unique ID.
func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
	if t.ID == "" {
		return errors.New("taskqueue: postgres queue requires a task ID")
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO action_tasks (id, conductor_id, not_before, payload)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.ConductorID, t.NotBefore.UTC(), data)
	return err
}

// Dequeue blocks (with polling) until a task is available or ctx is cancelled.
//
// A due row is locked with SELECT ... FOR UPDATE SKIP LOCKED and deleted in
// the same transaction.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		task, err := q.claim(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *PostgresQueue) claim(ctx context.Context) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      string
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload
		FROM action_tasks
		WHERE not_before <= now()
		ORDER BY not_before, created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM action_tasks WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task, err := DecodeTask(payload)
	if err != nil {
		return nil, fmt.Errorf("decode task %q: %w", id, err)
	}
	return task, nil
}

// Len returns an approximate number of queued tasks.
func (q *PostgresQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM action_tasks`).Scan(&n); err != nil {
		return 0
	}
	return n
}
