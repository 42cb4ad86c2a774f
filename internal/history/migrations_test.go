package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createLegacyDatabase writes a version-15 store to path, with sample data
// exercising the interesting migration steps: a favicon_id column to drop,
// keyword terms to normalize, a typed visit to backfill, a dangling
// referrer to repair, and a self-referencing visit.
func createLegacyDatabase(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE meta (
			key   TEXT NOT NULL UNIQUE PRIMARY KEY,
			value TEXT
		)`,
		`INSERT INTO meta (key, value) VALUES ('version', '15'), ('last_compatible_version', '15')`,

		`CREATE TABLE urls (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			url             TEXT NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			visit_count     INTEGER NOT NULL DEFAULT 0,
			typed_count     INTEGER NOT NULL DEFAULT 0,
			last_visit_time INTEGER NOT NULL DEFAULT 0,
			hidden          INTEGER NOT NULL DEFAULT 0,
			favicon_id      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX urls_url_index ON urls(url)`,
		`INSERT INTO urls (id, url, title, visit_count, typed_count, last_visit_time, hidden, favicon_id)
			VALUES (1, 'https://example.com/', 'Example', 3, 1, 1000000, 0, 7),
			       (2, 'https://news.test/today', 'News', 1, 0, 2000000, 0, 8)`,

		`CREATE TABLE visits (
			id         INTEGER PRIMARY KEY,
			url        INTEGER NOT NULL,
			visit_time INTEGER NOT NULL,
			from_visit INTEGER NOT NULL DEFAULT 0,
			transition INTEGER NOT NULL DEFAULT 0,
			segment_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX visits_url_index ON visits(url)`,
		// Visit 1 is typed (core type 1) and should get the typed-score
		// backfill. Visit 2 has a dangling referrer. Visit 3 refers to
		// itself.
		`INSERT INTO visits (id, url, visit_time, from_visit, transition)
			VALUES (1, 1, 1000000, 0, 268435457),
			       (2, 2, 2000000, 999, 268435456),
			       (3, 2, 3000000, 3, 268435456)`,

		`CREATE TABLE keyword_search_terms (
			keyword_id INTEGER NOT NULL,
			url_id     INTEGER NOT NULL,
			lower_term TEXT NOT NULL,
			term       TEXT NOT NULL
		)`,
		`CREATE INDEX keyword_search_terms_index ON keyword_search_terms(keyword_id, lower_term)`,
		`INSERT INTO keyword_search_terms (keyword_id, url_id, lower_term, term)
			VALUES (5, 1, 'go history', '  Go History '),
			       (5, 42, 'orphan', 'orphan')`,

		`CREATE TABLE segments (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			name   TEXT NOT NULL,
			url_id INTEGER NOT NULL
		)`,
		`CREATE TABLE segment_usage (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			segment_id  INTEGER NOT NULL,
			time_slot   INTEGER NOT NULL,
			visit_count INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, "statement: %s", stmt)
	}
}

func TestMigrate_FromOldestVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "History")
	createLegacyDatabase(t, path)

	db, err := Open(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentVersion, version)

	compatible, ok, err := db.getMetaInt(ctx, metaCompatibleVersionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, compatibleVersion, compatible)

	// URL rows survive the favicon_id drop with ids intact.
	row, err := db.URLs.GetURLRow(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "https://example.com/", row.URL)
	assert.Equal(t, "Example", row.Title)
	assert.Equal(t, 1, row.TypedCount)

	// The typed visit got the typed-score backfill; others did not.
	v1, err := db.Visits.GetRowForVisit(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, v1)
	assert.True(t, v1.IncrementedOmniboxTypedScore)

	// The dangling referrer and the self-reference were both repaired.
	v2, err := db.Visits.GetRowForVisit(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, v2)
	assert.False(t, v2.IncrementedOmniboxTypedScore)
	assert.Zero(t, v2.ReferringVisit)

	v3, err := db.Visits.GetRowForVisit(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, v3)
	assert.Zero(t, v3.ReferringVisit)

	// Keyword terms: normalized_term backfilled, orphan purged.
	term, err := db.URLs.GetKeywordSearchTermRow(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, "  Go History ", term.Term)
	assert.Equal(t, "go history", term.NormalizedTerm)

	orphan, err := db.URLs.GetKeywordSearchTermRow(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, orphan)

	// The migrated store accepts writes against the current schema.
	urlID := addTestURL(t, db, "https://post-migration.test/")
	visitID := addTestVisit(t, db, urlID, fromDBTime(4000000))
	require.NoError(t, db.Annotations.AddContextAnnotationsForVisit(ctx, visitID, &ContextAnnotations{
		Flags: FlagIsNewBookmark,
	}))
}

func TestMigrate_ReopenAfterMigrationIsNoOp(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "History")
	createLegacyDatabase(t, path)

	db, err := Open(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentVersion, version)
}

func TestOpen_TooNewFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "History")

	db, err := Open(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, db.setMetaInt(ctx, metaVersionKey, currentVersion+40))
	require.NoError(t, db.setMetaInt(ctx, metaCompatibleVersionKey, currentVersion+2))
	require.NoError(t, db.Close())

	_, err = Open(ctx, path, Options{Logger: testLogger()})
	require.Error(t, err)

	var tooNew *SchemaTooNewError
	require.ErrorAs(t, err, &tooNew)
	assert.Equal(t, currentVersion+2, tooNew.CompatibleVersion)
	assert.Equal(t, InitTooNew, InitStatusFor(err))
}

func TestOpen_NewerButCompatibleSucceeds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "History")

	db, err := Open(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, db.setMetaInt(ctx, metaVersionKey, currentVersion+1))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, Options{Logger: testLogger()})
	require.NoError(t, err)
	defer db.Close()

	// The persisted version is left alone; this build never downgrades.
	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentVersion+1, version)
}

func TestOpen_TooOldFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "History")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE meta (key TEXT NOT NULL UNIQUE PRIMARY KEY, value TEXT)`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO meta (key, value) VALUES ('version', '10'), ('last_compatible_version', '10')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = Open(ctx, path, Options{Logger: testLogger()})
	require.Error(t, err)

	var migErr *MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, 10, migErr.FromVersion)
	assert.Equal(t, InitFailure, InitStatusFor(err))
}
