package history

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openTestDatabase creates an in-memory store at the current schema
// version.
func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", Options{Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// addTestURL inserts a URL row and returns its id.
func addTestURL(t *testing.T, db *Database, url string) int64 {
	t.Helper()
	id, err := db.URLs.AddURL(context.Background(), &URLRow{URL: url})
	require.NoError(t, err)
	require.NotZero(t, id)
	return id
}

// addTestVisit inserts a visible visit (typed, chain start and end) at the
// given time and returns its id.
func addTestVisit(t *testing.T, db *Database, urlID int64, visitTime time.Time) int64 {
	t.Helper()
	id, err := db.Visits.AddVisit(context.Background(), &VisitRow{
		URLID:      urlID,
		VisitTime:  visitTime,
		Transition: TransitionTyped | TransitionChainStart | TransitionChainEnd,
	}, SourceBrowsed)
	require.NoError(t, err)
	return id
}
