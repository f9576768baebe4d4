package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	// Replace global logger with a no-op to avoid noise in tests.
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runlog.db")
	st, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_StartAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.Start(ctx, "rbi")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "rbi", entries[0].Source)
	assert.Equal(t, StatusRunning, entries[0].Status)
	assert.Nil(t, entries[0].FinishedAt)
}

func TestSQLite_CompleteRecordsCounters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.Start(ctx, "rbi")
	require.NoError(t, err)

	err = st.Complete(ctx, id, &Result{
		Records:    120,
		Rejected:   3,
		FailedKeys: 1,
		Metadata:   map[string]any{"branch_types": 5},
	})
	require.NoError(t, err)

	entries, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, StatusComplete, e.Status)
	assert.Equal(t, int64(120), e.Records)
	assert.Equal(t, int64(3), e.Rejected)
	assert.Equal(t, int64(1), e.FailedKeys)
	require.NotNil(t, e.FinishedAt)
	assert.Equal(t, float64(5), e.Metadata["branch_types"])
}

func TestSQLite_FailRecordsCause(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.Start(ctx, "mppolice")
	require.NoError(t, err)

	err = st.Fail(ctx, id, "session token rejected")
	require.NoError(t, err)

	entries, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "session token rejected", entries[0].Error)
	assert.NotNil(t, entries[0].FinishedAt)
}

func TestSQLite_CompleteUnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.Complete(context.Background(), "no-such-id", &Result{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_LastSuccess(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ts, err := st.LastSuccess(ctx, "rbi")
	require.NoError(t, err)
	assert.Nil(t, ts)

	// A failed run does not count as a success.
	id, err := st.Start(ctx, "rbi")
	require.NoError(t, err)
	require.NoError(t, st.Fail(ctx, id, "boom"))

	ts, err = st.LastSuccess(ctx, "rbi")
	require.NoError(t, err)
	assert.Nil(t, ts)

	id, err = st.Start(ctx, "rbi")
	require.NoError(t, err)
	require.NoError(t, st.Complete(ctx, id, &Result{Records: 7}))

	ts, err = st.LastSuccess(ctx, "rbi")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.WithinDuration(t, time.Now(), *ts, 5*time.Second)
}

func TestSQLite_LastSuccess_PerSource(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.Start(ctx, "rbi")
	require.NoError(t, err)
	require.NoError(t, st.Complete(ctx, id, &Result{}))

	ts, err := st.LastSuccess(ctx, "soicors")
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestSQLite_List_NewestFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.Start(ctx, "rbi")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	second, err := st.Start(ctx, "mppolice")
	require.NoError(t, err)

	entries, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].ID)
	assert.Equal(t, first, entries[1].ID)
}

func TestSQLite_List_Limit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.Start(ctx, "rbi")
		require.NoError(t, err)
	}

	entries, err := st.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)

	// Migrate already ran in the helper; a second call must not error.
	require.NoError(t, st.Migrate(context.Background()))
}
