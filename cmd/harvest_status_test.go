//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/india-geodata/harvest-cli/internal/runlog"
)

func TestFormatRunEntries_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, formatRunEntries(&buf, nil))
	assert.Contains(t, buf.String(), "No runs recorded yet.")
}

func TestFormatRunEntries(t *testing.T) {
	started := time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)
	finished := started.Add(95 * time.Second)

	entries := []runlog.Entry{
		{
			ID:         "0f4b2a1c-aaaa-bbbb-cccc-000000000001",
			Source:     "rbi_branches",
			Status:     runlog.StatusComplete,
			StartedAt:  started,
			FinishedAt: &finished,
			Records:    142345,
			Metadata:   map[string]any{"operation": "harvest"},
		},
		{
			ID:        "0f4b2a1c-aaaa-bbbb-cccc-000000000002",
			Source:    "mp_police",
			Status:    runlog.StatusRunning,
			StartedAt: started,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, formatRunEntries(&buf, entries))
	out := buf.String()

	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "rbi_branches")
	assert.Contains(t, out, "harvest")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "142345")
	assert.Contains(t, out, "2025-11-03 09:30")

	assert.Contains(t, out, "mp_police")
	assert.Contains(t, out, "running")
}

func TestFormatRunEntries_TruncatesError(t *testing.T) {
	long := strings.Repeat("x", 80)

	entries := []runlog.Entry{{
		ID:        "0f4b2a1c-aaaa-bbbb-cccc-000000000003",
		Source:    "soi_cors",
		Status:    runlog.StatusFailed,
		StartedAt: time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC),
		Error:     long,
	}}

	var buf bytes.Buffer
	require.NoError(t, formatRunEntries(&buf, entries))
	out := buf.String()

	assert.NotContains(t, out, long)
	assert.Contains(t, out, strings.Repeat("x", 37)+"...")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly-10", truncate("exactly-10", 10))
	assert.Equal(t, "toolong...", truncate("toolong-string", 10))
}
