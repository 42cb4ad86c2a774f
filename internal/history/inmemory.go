package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// InMemoryDatabase is the autocomplete mirror: a separate in-memory SQLite
// database holding the subset of URL rows worth offering in autocomplete
// (typed at least once, or backing a keyword search term), plus a copy of
// the keyword_search_terms table. It reuses URLTable for row access, so
// mirror reads behave exactly like disk reads.
type InMemoryDatabase struct {
	db     *sql.DB
	logger *slog.Logger

	URLs *URLTable
}

const inMemorySchema = `
	CREATE TABLE urls (
		id              INTEGER PRIMARY KEY,
		url             TEXT NOT NULL,
		title           TEXT NOT NULL DEFAULT '',
		visit_count     INTEGER NOT NULL DEFAULT 0,
		typed_count     INTEGER NOT NULL DEFAULT 0,
		last_visit_time INTEGER NOT NULL DEFAULT 0,
		hidden          INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE keyword_search_terms (
		keyword_id      INTEGER NOT NULL,
		url_id          INTEGER NOT NULL,
		term            TEXT NOT NULL,
		normalized_term TEXT NOT NULL
	);`

const inMemoryIndexes = `
	CREATE UNIQUE INDEX urls_url_index ON urls(url);
	CREATE INDEX keyword_search_terms_index ON keyword_search_terms(keyword_id, normalized_term);
	CREATE INDEX keyword_search_terms_url_index ON keyword_search_terms(url_id);`

// NewInMemoryDatabase opens an empty mirror. Call InitFromScratch or
// InitFromDisk before use.
func NewInMemoryDatabase(logger *slog.Logger) (*InMemoryDatabase, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	m := &InMemoryDatabase{
		db:     db,
		logger: logger,
		URLs:   &URLTable{db: db, logger: logger},
	}
	return m, nil
}

// InitFromScratch creates an empty mirror schema, for fresh profiles with
// no history file to load from.
func (m *InMemoryDatabase) InitFromScratch(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, inMemorySchema+inMemoryIndexes); err != nil {
		return fmt.Errorf("create in-memory schema: %w", err)
	}
	return nil
}

// InitFromDisk bulk-loads the mirror from the history file at path: URL
// rows with a nonzero typed count, URL rows backing keyword search terms,
// and the keyword_search_terms table itself. Indexes are created after the
// bulk copy, which is substantially faster than maintaining them during
// it. The on-disk database must not hold an exclusive lock yet.
func (m *InMemoryDatabase) InitFromDisk(ctx context.Context, path string) error {
	if _, err := m.db.ExecContext(ctx, inMemorySchema); err != nil {
		return fmt.Errorf("create in-memory schema: %w", err)
	}
	if _, err := m.db.ExecContext(ctx,
		`ATTACH DATABASE ? AS history`, path); err != nil {
		return fmt.Errorf("attach history database: %w", err)
	}

	copies := []string{
		`INSERT INTO urls SELECT ` + urlRowFields + ` FROM history.urls WHERE typed_count > 0`,
		`INSERT OR IGNORE INTO urls
			SELECT u.id, u.url, u.title, u.visit_count, u.typed_count, u.last_visit_time, u.hidden
			FROM history.urls u JOIN history.keyword_search_terms k ON u.id = k.url_id`,
		`INSERT INTO keyword_search_terms
			SELECT keyword_id, url_id, term, normalized_term FROM history.keyword_search_terms`,
	}
	for _, stmt := range copies {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			_, _ = m.db.ExecContext(ctx, `DETACH DATABASE history`)
			return fmt.Errorf("load in-memory database: %w", err)
		}
	}
	if _, err := m.db.ExecContext(ctx, `DETACH DATABASE history`); err != nil {
		return fmt.Errorf("detach history database: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, inMemoryIndexes); err != nil {
		return fmt.Errorf("create in-memory indexes: %w", err)
	}
	return nil
}

// reset drops and recreates the mirror wholesale. Used when all history is
// deleted: rebuilding empty is cheaper and safer than replaying deletes.
func (m *InMemoryDatabase) reset(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		DROP TABLE IF EXISTS urls;
		DROP TABLE IF EXISTS keyword_search_terms;`); err != nil {
		return fmt.Errorf("drop in-memory tables: %w", err)
	}
	return m.InitFromScratch(ctx)
}

// Close releases the mirror. Its contents are derived and rebuildable, so
// nothing is flushed.
func (m *InMemoryDatabase) Close() error {
	return m.db.Close()
}
