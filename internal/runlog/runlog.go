// Package runlog records harvest runs so operators can see when each
// source last completed and with what counts.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Status of a recorded run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Result carries the counters recorded when a run finishes.
type Result struct {
	Records    int64          `json:"records"`
	Rejected   int64          `json:"rejected"`
	FailedKeys int64          `json:"failed_keys"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Entry is one recorded run of one source.
type Entry struct {
	ID         string
	Source     string
	Status     Status
	StartedAt  time.Time
	FinishedAt *time.Time
	Records    int64
	Rejected   int64
	FailedKeys int64
	Error      string
	Metadata   map[string]any
}

// Store persists run entries.
type Store interface {
	// Start records a new running entry and returns its id.
	Start(ctx context.Context, source string) (string, error)

	// Complete marks the entry finished with its counters.
	Complete(ctx context.Context, id string, res *Result) error

	// Fail marks the entry failed with the cause.
	Fail(ctx context.Context, id string, cause string) error

	// LastSuccess returns when the source last completed, or nil if it
	// never has.
	LastSuccess(ctx context.Context, source string) (*time.Time, error)

	// List returns the most recent entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Options selects and configures a run log backend.
type Options struct {
	Driver      string
	Path        string // sqlite database file
	DatabaseURL string // postgres connection string
}

// Open creates the configured Store and applies its migrations.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Driver {
	case "sqlite", "":
		store, err = NewSQLite(opts.Path)
	case "postgres":
		store, err = NewPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, eris.Errorf("runlog: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// marshalMetadata renders metadata for a nullable JSON column. Empty
// metadata becomes NULL.
func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: marshal metadata")
	}
	return string(b), nil
}
