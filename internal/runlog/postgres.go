package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/db"
)

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with its own connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close leaves the pool
// open for its owner.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS harvest;

CREATE TABLE IF NOT EXISTS harvest.run_log (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	records     BIGINT NOT NULL DEFAULT 0,
	rejected    BIGINT NOT NULL DEFAULT 0,
	failed_keys BIGINT NOT NULL DEFAULT 0,
	error       TEXT,
	metadata    JSONB
);

CREATE INDEX IF NOT EXISTS idx_run_log_source ON harvest.run_log(source, started_at);
`

// migrationLockID serializes migrations across harvest processes
// sharing one database.
const migrationLockID = 727274

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			zap.L().Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Start(ctx context.Context, source string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO harvest.run_log (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, source, string(StatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start run for %s", source)
	}
	return id, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, res *Result) error {
	metadataJSON, err := marshalMetadata(res.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE harvest.run_log SET status = $1, finished_at = $2, records = $3, rejected = $4, failed_keys = $5, metadata = $6 WHERE id = $7`,
		string(StatusComplete), time.Now().UTC(), res.Records, res.Rejected, res.FailedKeys, metadataJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE harvest.run_log SET status = $1, finished_at = $2, error = $3 WHERE id = $4`,
		string(StatusFailed), time.Now().UTC(), cause, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT finished_at FROM harvest.run_log WHERE source = $1 AND status = $2 ORDER BY finished_at DESC LIMIT 1`,
		source, string(StatusComplete),
	)
	var finished time.Time
	err := row.Scan(&finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: last success for %s", source)
	}
	return &finished, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, finished_at, records, rejected, failed_keys, error, metadata
		 FROM harvest.run_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			status   string
			finished *time.Time
			errMsg   *string
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Source, &status, &e.StartedAt, &finished,
			&e.Records, &e.Rejected, &e.FailedKeys, &errMsg, &metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		e.Status = Status(status)
		e.FinishedAt = finished
		if errMsg != nil {
			e.Error = *errMsg
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate runs")
}
