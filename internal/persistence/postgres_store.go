package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/conductor/internal/engine"
	"github.com/petrijr/conductor/pkg/api"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db    *sql.DB
	codec Codec
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, codec: JSONCodec{}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) initSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			data BYTEA NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_status ON snapshots(status);
	`)
	return err
}

func (p *PostgresStore) Save(ctx context.Context, snap *engine.Snapshot) error {
	data, err := EncodeSnapshot(p.codec, snap)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, status, updated_at, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			data = EXCLUDED.data`,
		snap.ID,
		string(snap.State),
		time.Now().UnixNano(),
		data,
	)
	return err
}

func (p *PostgresStore) Load(ctx context.Context, id string) (*engine.Snapshot, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return DecodeSnapshot(p.codec, data)
}

func (p *PostgresStore) List(ctx context.Context, filter Filter) ([]Summary, error) {
	query := `SELECT id, status, updated_at FROM snapshots`
	var args []any
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			args = append(args, string(st))
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		query += " WHERE status IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			status  string
			updated int64
		)
		if err := rows.Scan(&sum.ID, &status, &updated); err != nil {
			return nil, err
		}
		sum.Status = api.Status(status)
		sum.UpdatedAt = time.Unix(0, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = $1`, id)
	return err
}

func (p *PostgresStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	now := time.Now()
	res, err := p.db.ExecContext(ctx, `
		UPDATE snapshots
		SET lease_owner = $1, lease_expires_at = $2
		WHERE id = $3
		AND (
			lease_owner = ''
			OR lease_expires_at <= $4
			OR lease_owner = $1
		)`,
		owner, now.Add(ttl).UnixNano(), id, now.UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, p.exists(ctx, id)
	}
	return true, nil
}

func (p *PostgresStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE snapshots
		SET lease_expires_at = $1
		WHERE id = $2 AND lease_owner = $3`,
		time.Now().Add(ttl).UnixNano(), id, owner,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if err := p.exists(ctx, id); err != nil {
			return err
		}
		return ErrLeaseHeld
	}
	return nil
}

func (p *PostgresStore) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE snapshots
		SET lease_owner = '', lease_expires_at = 0
		WHERE id = $1 AND lease_owner = $2`,
		id, owner,
	)
	return err
}

func (p *PostgresStore) exists(ctx context.Context, id string) error {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSnapshotNotFound
	}
	return err
}
