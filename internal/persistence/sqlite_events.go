package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/conductor/pkg/api"
)

// SQLiteEventStore stores conductor history in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

// Ensure SQLiteEventStore implements the interfaces.
var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conductor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conductor_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_conductor_events_conductor_id ON conductor_events(conductor_id, id);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conductor_events (conductor_id, at, type, task_id, status, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ConductorID,
		at.UnixNano(),
		string(ev.Type),
		ev.TaskID,
		string(ev.Status),
		ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, conductorID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conductor_id, at, type, task_id, status, detail
		FROM conductor_events
		WHERE conductor_id = ?
		ORDER BY id ASC`, conductorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEvent
	for rows.Next() {
		var (
			id     string
			atN    int64
			typ    string
			taskID string
			status string
			detail string
		)
		if err := rows.Scan(&id, &atN, &typ, &taskID, &status, &detail); err != nil {
			return nil, err
		}
		out = append(out, api.HistoryEvent{
			ConductorID: id,
			At:          time.Unix(0, atN),
			Type:        api.HistoryType(typ),
			TaskID:      taskID,
			Status:      api.Status(status),
			Detail:      detail,
		})
	}
	return out, rows.Err()
}
