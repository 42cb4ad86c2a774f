package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrybox/historydb/internal/history"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// testGlobals writes a throwaway config under a temp dir and returns
// globals pointing at it, so commands never touch the real default path.
func testGlobals(t *testing.T) *GlobalFlags {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "storage:\n  path: " + dir + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0644))
	return &GlobalFlags{Config: cfgPath}
}

// writeConfig replaces the temp config file a testGlobals points at.
func writeConfig(t *testing.T, globals *GlobalFlags, yaml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(globals.Config, []byte(yaml), 0644))
}

// openTestDatabase creates an in-memory history database for command tests.
func openTestDatabase(t *testing.T) *history.Database {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := history.Open(context.Background(), ":memory:", history.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedVisit adds a URL (unless present) and a visible typed visit at the
// given time, updating the URL's denormalized aggregates the way the
// owning service would.
func seedVisit(t *testing.T, db *history.Database, rawURL string, at time.Time) {
	t.Helper()
	ctx := context.Background()

	row, err := db.URLs.GetRowForURL(ctx, rawURL)
	require.NoError(t, err)
	if row == nil {
		row = &history.URLRow{URL: rawURL}
		_, err = db.URLs.AddURL(ctx, row)
		require.NoError(t, err)
	}

	_, err = db.Visits.AddVisit(ctx, &history.VisitRow{
		URLID:                        row.ID,
		VisitTime:                    at,
		Transition:                   history.TransitionTyped | history.TransitionChainStart | history.TransitionChainEnd,
		IncrementedOmniboxTypedScore: true,
	}, history.SourceBrowsed)
	require.NoError(t, err)

	row.VisitCount++
	row.TypedCount++
	if at.After(row.LastVisit) {
		row.LastVisit = at
	}
	require.NoError(t, db.URLs.UpdateURLRow(ctx, row))
}
