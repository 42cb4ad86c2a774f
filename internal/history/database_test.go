package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fresh open ---

func TestOpen_FreshDatabaseAtCurrentVersion(t *testing.T) {
	db := openTestDatabase(t)

	version, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentVersion, version)
}

func TestOpen_ReopenIsNoOp(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "History")

	db, err := Open(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	addTestURL(t, db, "https://example.com/")
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentVersion, version)

	row, err := db.URLs.GetRowForURL(ctx, "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, row)
}

// --- transactions ---

func TestTransaction_NestingBounds(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	assert.Equal(t, 0, db.TransactionNesting())
	require.NoError(t, db.BeginTransaction(ctx))
	assert.Equal(t, 1, db.TransactionNesting())

	// A second begin would nest; that is a caller bug.
	require.Error(t, db.BeginTransaction(ctx))

	require.NoError(t, db.CommitTransaction(ctx))
	assert.Equal(t, 0, db.TransactionNesting())
	require.Error(t, db.CommitTransaction(ctx))
}

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.BeginTransaction(ctx))
	addTestURL(t, db, "https://rolled-back.test/")
	require.NoError(t, db.RollbackTransaction(ctx))

	row, err := db.URLs.GetRowForURL(ctx, "https://rolled-back.test/")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestVacuum_RefusesInsideTransaction(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.BeginTransaction(ctx))
	err := db.Vacuum(ctx)
	assert.ErrorIs(t, err, ErrTransactionOpen)

	require.NoError(t, db.CommitTransaction(ctx))
	assert.NoError(t, db.Vacuum(ctx))
}

// --- RecreateAllTablesButURL ---

func TestRecreateAllTablesButURL(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	urlID := addTestURL(t, db, "https://keep.test/")
	addTestVisit(t, db, urlID, time.Now())

	require.NoError(t, db.RecreateAllTablesButURL(ctx))

	row, err := db.URLs.GetRowForURL(ctx, "https://keep.test/")
	require.NoError(t, err)
	require.NotNil(t, row)

	visits, _, err := db.Visits.GetAllVisitsInRange(ctx, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, visits)
}

// --- stats ---

func TestStats(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	first := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	last := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	urlID := addTestURL(t, db, "https://stats.test/a")
	addTestVisit(t, db, urlID, first)
	addTestVisit(t, db, urlID, last)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentVersion, stats.SchemaVersion)
	assert.Equal(t, int64(1), stats.URLCount)
	assert.Equal(t, int64(2), stats.VisitCount)
	assert.True(t, stats.OldestVisit.Equal(first))
	assert.True(t, stats.NewestVisit.Equal(last))
}
