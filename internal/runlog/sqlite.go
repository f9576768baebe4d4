package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the SQLite database at path, creating it if needed,
// and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS run_log (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	records     INTEGER NOT NULL DEFAULT 0,
	rejected    INTEGER NOT NULL DEFAULT 0,
	failed_keys INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	metadata    TEXT
);

CREATE INDEX IF NOT EXISTS idx_run_log_source ON run_log(source, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Start(ctx context.Context, source string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, source, string(StatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start run for %s", source)
	}
	return id, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, res *Result) error {
	metadataJSON, err := marshalMetadata(res.Metadata)
	if err != nil {
		return err
	}
	r, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, finished_at = ?, records = ?, rejected = ?, failed_keys = ?, metadata = ? WHERE id = ?`,
		string(StatusComplete), time.Now().UTC(), res.Records, res.Rejected, res.FailedKeys, metadataJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return checkRowsAffected(r, id)
}

func (s *SQLiteStore) Fail(ctx context.Context, id string, cause string) error {
	r, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		string(StatusFailed), time.Now().UTC(), cause, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", id)
	}
	return checkRowsAffected(r, id)
}

func (s *SQLiteStore) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT finished_at FROM run_log WHERE source = ? AND status = ? ORDER BY finished_at DESC LIMIT 1`,
		source, string(StatusComplete),
	)
	var finished time.Time
	err := row.Scan(&finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success for %s", source)
	}
	return &finished, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, finished_at, records, rejected, failed_keys, error, metadata
		 FROM run_log ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			status   string
			finished sql.NullTime
			errMsg   sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Source, &status, &e.StartedAt, &finished,
			&e.Records, &e.Rejected, &e.FailedKeys, &errMsg, &metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		e.Status = Status(status)
		if finished.Valid {
			t := finished.Time
			e.FinishedAt = &t
		}
		e.Error = errMsg.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run not found: %s", id)
	}
	return nil
}
