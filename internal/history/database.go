package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Options controls how the database is opened. The zero value is usable.
type Options struct {
	// JournalMode is the SQLite journal mode ("wal" by default).
	JournalMode string

	// CacheSizePages primes the page cache after open. Best-effort; a
	// failure here never fails initialization.
	CacheSizePages int

	// EnableSyncMetadata creates the history_sync_metadata table.
	EnableSyncMetadata bool

	// Logger receives non-fatal write-failure reports. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Database is the composition root of the history store. It owns the
// physical connection, the schema version, and transaction boundaries, and
// composes the sub-tables onto the one shared handle.
//
// All operations assume external serialization by a single owner sequence;
// the database performs no internal locking.
type Database struct {
	db     *sql.DB
	logger *slog.Logger
	path   string

	txNesting int

	URLs         *URLTable
	Visits       *VisitTable
	Annotations  *AnnotationsTable
	VisitedLinks *VisitedLinkTable
}

// Open opens or creates the history database at path and brings its schema
// to the current version. All initialization past the open itself runs in
// one transaction, so a crash mid-setup leaves either the previous
// consistent state or nothing.
//
// Errors are classified by InitStatusFor: *OpenError, *SchemaTooNewError,
// and *MigrationError are all fatal to the store.
func Open(ctx context.Context, path string, opts Options) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	// The store has a single logical owner; one connection keeps
	// owner-scoped BEGIN/COMMIT bound to the same handle.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &OpenError{Path: path, Err: err}
	}

	d := &Database{
		db:     db,
		logger: logger,
		path:   path,
	}
	d.URLs = &URLTable{db: db, logger: logger}
	d.Visits = &VisitTable{db: db, logger: logger}
	d.Annotations = &AnnotationsTable{db: db, logger: logger}
	d.VisitedLinks = &VisitedLinkTable{db: db, logger: logger}

	if err := d.init(ctx, opts); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) init(ctx context.Context, opts Options) error {
	journalMode := opts.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}
	if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode = "+journalMode); err != nil {
		return fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
		return fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "PRAGMA temp_store = MEMORY"); err != nil {
		return fmt.Errorf("set temp store: %w", err)
	}

	// Cache priming is best-effort and never fails initialization.
	if opts.CacheSizePages > 0 {
		if _, err := d.db.ExecContext(ctx, fmt.Sprintf("PRAGMA cache_size = %d", opts.CacheSizePages)); err != nil {
			d.logger.Warn("cache priming failed", "error", err)
		}
	}

	if err := d.BeginTransaction(ctx); err != nil {
		return fmt.Errorf("begin init transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = d.RollbackTransaction(ctx)
		}
	}()

	if _, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT NOT NULL UNIQUE PRIMARY KEY,
			value TEXT
		)
	`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	version, ok, err := d.getMetaInt(ctx, metaVersionKey)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if !ok {
		// Fresh database: create the full current schema and stamp it.
		if err := d.createCurrentSchema(ctx); err != nil {
			return err
		}
		if err := d.setMetaInt(ctx, metaVersionKey, currentVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
		if err := d.setMetaInt(ctx, metaCompatibleVersionKey, compatibleVersion); err != nil {
			return fmt.Errorf("stamp compatible version: %w", err)
		}
	} else {
		compatible, compatOK, err := d.getMetaInt(ctx, metaCompatibleVersionKey)
		if err != nil {
			return fmt.Errorf("read compatible version: %w", err)
		}
		if !compatOK {
			compatible = version
		}
		if compatible > currentVersion {
			return &SchemaTooNewError{CompatibleVersion: compatible, CurrentVersion: currentVersion}
		}
		// A persisted version newer than this build but still compatible
		// is opened as-is: newer builds add columns older builds tolerate.
		if version < currentVersion {
			if err := d.migrate(ctx, version); err != nil {
				return err
			}
		}
	}

	// Collaborator sub-stores share the handle; their tables are created
	// here even though their operations live elsewhere.
	if err := d.createCollaboratorTables(ctx, opts.EnableSyncMetadata); err != nil {
		return err
	}

	if err := d.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("commit init transaction: %w", err)
	}
	committed = true
	return nil
}

const (
	metaVersionKey           = "version"
	metaCompatibleVersionKey = "last_compatible_version"
)

// createCurrentSchema creates every table and index at the current schema
// version. Used only for fresh databases; existing ones arrive here
// through the migration chain instead.
func (d *Database) createCurrentSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS urls (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			url             TEXT NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			visit_count     INTEGER NOT NULL DEFAULT 0,
			typed_count     INTEGER NOT NULL DEFAULT 0,
			last_visit_time INTEGER NOT NULL DEFAULT 0,
			hidden          INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS urls_url_index ON urls(url)`,
		`CREATE INDEX IF NOT EXISTS urls_typed_index ON urls(typed_count)`,

		`CREATE TABLE IF NOT EXISTS visits (
			id                              INTEGER PRIMARY KEY AUTOINCREMENT,
			url                             INTEGER NOT NULL,
			visit_time                      INTEGER NOT NULL,
			from_visit                      INTEGER NOT NULL DEFAULT 0,
			external_referrer_url           TEXT NOT NULL DEFAULT '',
			transition                      INTEGER NOT NULL DEFAULT 0,
			segment_id                      INTEGER NOT NULL DEFAULT 0,
			visit_duration                  INTEGER NOT NULL DEFAULT 0,
			incremented_omnibox_typed_score INTEGER NOT NULL DEFAULT 0,
			opener_visit                    INTEGER NOT NULL DEFAULT 0,
			originator_cache_guid           TEXT NOT NULL DEFAULT '',
			originator_visit_id             INTEGER NOT NULL DEFAULT 0,
			originator_from_visit           INTEGER NOT NULL DEFAULT 0,
			originator_opener_visit         INTEGER NOT NULL DEFAULT 0,
			is_known_to_sync                INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS visits_url_index ON visits(url)`,
		`CREATE INDEX IF NOT EXISTS visits_time_index ON visits(visit_time)`,
		`CREATE INDEX IF NOT EXISTS visits_from_index ON visits(from_visit)`,
		`CREATE INDEX IF NOT EXISTS visits_originator_id_index ON visits(originator_visit_id)`,

		`CREATE TABLE IF NOT EXISTS visit_source (
			id     INTEGER PRIMARY KEY,
			source INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS keyword_search_terms (
			keyword_id      INTEGER NOT NULL,
			url_id          INTEGER NOT NULL,
			term            TEXT NOT NULL,
			normalized_term TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS keyword_search_terms_index ON keyword_search_terms(keyword_id, normalized_term)`,
		`CREATE INDEX IF NOT EXISTS keyword_search_terms_url_index ON keyword_search_terms(url_id)`,

		`CREATE TABLE IF NOT EXISTS content_annotations (
			visit_id              INTEGER PRIMARY KEY,
			visibility_score      REAL NOT NULL DEFAULT -1,
			categories            TEXT NOT NULL DEFAULT '',
			entities              TEXT NOT NULL DEFAULT '',
			related_searches      TEXT NOT NULL DEFAULT '',
			search_normalized_url TEXT NOT NULL DEFAULT '',
			search_terms          TEXT NOT NULL DEFAULT '',
			alternative_title     TEXT NOT NULL DEFAULT '',
			page_language         TEXT NOT NULL DEFAULT '',
			password_state        INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS context_annotations (
			visit_id                  INTEGER PRIMARY KEY,
			context_annotation_flags  INTEGER NOT NULL DEFAULT 0,
			duration_since_last_visit INTEGER NOT NULL DEFAULT -1,
			page_end_reason           INTEGER NOT NULL DEFAULT 0,
			total_foreground_duration INTEGER NOT NULL DEFAULT -1
		)`,

		`CREATE TABLE IF NOT EXISTS clusters (
			cluster_id INTEGER PRIMARY KEY AUTOINCREMENT,
			score      REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS clusters_and_visits (
			cluster_id INTEGER NOT NULL,
			visit_id   INTEGER NOT NULL,
			score      REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (cluster_id, visit_id)
		)`,
		`CREATE INDEX IF NOT EXISTS clusters_for_visit ON clusters_and_visits(visit_id)`,

		`CREATE TABLE IF NOT EXISTS visited_links (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			link_url_id   INTEGER NOT NULL,
			top_level_url TEXT NOT NULL,
			frame_url     TEXT NOT NULL,
			visit_count   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS visited_links_index ON visited_links(link_url_id, top_level_url, frame_url)`,

		`CREATE TABLE IF NOT EXISTS segments (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			name   TEXT NOT NULL,
			url_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS segment_usage (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			segment_id  INTEGER NOT NULL,
			time_slot   INTEGER NOT NULL,
			visit_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS segment_usage_time_slot_segment_id ON segment_usage(time_slot, segment_id)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// createCollaboratorTables creates tables owned by external collaborators
// (download store, sync engine) that share this physical handle.
func (d *Database) createCollaboratorTables(ctx context.Context, syncMetadata bool) error {
	if _, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS downloads (
			id             INTEGER PRIMARY KEY,
			guid           TEXT NOT NULL DEFAULT '',
			current_path   TEXT NOT NULL DEFAULT '',
			target_path    TEXT NOT NULL DEFAULT '',
			start_time     INTEGER NOT NULL DEFAULT 0,
			received_bytes INTEGER NOT NULL DEFAULT 0,
			total_bytes    INTEGER NOT NULL DEFAULT 0,
			state          INTEGER NOT NULL DEFAULT 0,
			url            TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("create downloads table: %w", err)
	}
	if syncMetadata {
		if _, err := d.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS history_sync_metadata (
				storage_key INTEGER PRIMARY KEY NOT NULL,
				value       BLOB
			)
		`); err != nil {
			return fmt.Errorf("create sync metadata table: %w", err)
		}
	}
	return nil
}

func (d *Database) getMetaInt(ctx context.Context, key string) (int, bool, error) {
	var value int
	err := d.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (d *Database) setMetaInt(ctx context.Context, key string, value int) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// SchemaVersion returns the persisted schema version.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	v, ok, err := d.getMetaInt(ctx, metaVersionKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("schema version missing")
	}
	return v, nil
}

// BeginTransaction opens the owner-scoped transaction. Nesting depth must
// stay 0 or 1 at all times; the owner, not the sub-tables, is responsible
// for respecting this.
func (d *Database) BeginTransaction(ctx context.Context) error {
	if d.txNesting != 0 {
		return fmt.Errorf("transaction already open (nesting %d)", d.txNesting)
	}
	if _, err := d.db.ExecContext(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	d.txNesting = 1
	return nil
}

// CommitTransaction commits the owner-scoped transaction.
func (d *Database) CommitTransaction(ctx context.Context) error {
	if d.txNesting != 1 {
		return fmt.Errorf("no transaction open")
	}
	if _, err := d.db.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	d.txNesting = 0
	return nil
}

// RollbackTransaction rolls back the owner-scoped transaction.
func (d *Database) RollbackTransaction(ctx context.Context) error {
	if d.txNesting != 1 {
		return fmt.Errorf("no transaction open")
	}
	if _, err := d.db.ExecContext(ctx, "ROLLBACK"); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	d.txNesting = 0
	return nil
}

// TransactionNesting returns the current nesting depth (0 or 1).
func (d *Database) TransactionNesting() int { return d.txNesting }

// RecreateAllTablesButURL drops and recreates every sub-table except urls
// and downloads. Used for "delete all history": dropping whole tables beats
// per-row deletes by orders of magnitude. A non-nil error means the caller
// must assume the store is corrupt and stop using it.
func (d *Database) RecreateAllTablesButURL(ctx context.Context) error {
	if err := d.BeginTransaction(ctx); err != nil {
		return err
	}
	drops := []string{
		"DROP TABLE IF EXISTS visits",
		"DROP TABLE IF EXISTS visit_source",
		"DROP TABLE IF EXISTS keyword_search_terms",
		"DROP TABLE IF EXISTS content_annotations",
		"DROP TABLE IF EXISTS context_annotations",
		"DROP TABLE IF EXISTS clusters",
		"DROP TABLE IF EXISTS clusters_and_visits",
		"DROP TABLE IF EXISTS visited_links",
		"DROP TABLE IF EXISTS segments",
		"DROP TABLE IF EXISTS segment_usage",
	}
	for _, stmt := range drops {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			_ = d.RollbackTransaction(ctx)
			return fmt.Errorf("recreate tables (%s): %w", stmt, err)
		}
	}
	if err := d.createCurrentSchema(ctx); err != nil {
		_ = d.RollbackTransaction(ctx)
		return fmt.Errorf("recreate tables: %w", err)
	}
	return d.CommitTransaction(ctx)
}

// Vacuum rebuilds the database file. It refuses to run while the owner
// transaction is open.
func (d *Database) Vacuum(ctx context.Context) error {
	if d.txNesting != 0 {
		return ErrTransactionOpen
	}
	if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// TrimMemory releases as much cached memory as possible back to the OS.
func (d *Database) TrimMemory(ctx context.Context) {
	if _, err := d.db.ExecContext(ctx, "PRAGMA shrink_memory"); err != nil {
		d.logger.Warn("trim memory failed", "error", err)
	}
}

// EnableExclusiveLocking switches the handle to exclusive locking mode for
// a throughput gain. Call only after any secondary attach step (the
// in-memory mirror's bulk load) has finished; initial setup needs
// shared-mode semantics.
func (d *Database) EnableExclusiveLocking(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "PRAGMA locking_mode = EXCLUSIVE"); err != nil {
		return fmt.Errorf("enable exclusive locking: %w", err)
	}
	return nil
}

// Raze closes the handle and deletes the database file. The Database is
// unusable afterwards.
func (d *Database) Raze() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close before raze: %w", err)
	}
	if d.path == "" || d.path == ":memory:" {
		return nil
	}
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("raze: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Close releases the physical handle.
func (d *Database) Close() error { return d.db.Close() }

// HostCount pairs a hostname with its total visit count.
type HostCount struct {
	Host  string
	Count int64
}

// Stats holds aggregate statistics about the history database.
type Stats struct {
	SchemaVersion int
	URLCount      int64
	VisitCount    int64
	OldestVisit   time.Time
	NewestVisit   time.Time
	TopHosts      []HostCount
}

// Stats computes aggregate statistics for diagnostics and the status
// command.
func (d *Database) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	version, err := d.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version

	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM urls").Scan(&stats.URLCount); err != nil {
		return nil, fmt.Errorf("count urls: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits").Scan(&stats.VisitCount); err != nil {
		return nil, fmt.Errorf("count visits: %w", err)
	}

	if stats.VisitCount > 0 {
		var oldest, newest int64
		err := d.db.QueryRowContext(ctx, "SELECT MIN(visit_time), MAX(visit_time) FROM visits").Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("visit time range: %w", err)
		}
		stats.OldestVisit = fromDBTime(oldest)
		stats.NewestVisit = fromDBTime(newest)
	}

	// Host aggregation happens in-process: the urls table stores full URL
	// strings, not hostnames.
	rows, err := d.db.QueryContext(ctx,
		"SELECT url, visit_count FROM urls WHERE visit_count > 0 ORDER BY visit_count DESC LIMIT 200")
	if err != nil {
		return nil, fmt.Errorf("top urls: %w", err)
	}
	defer rows.Close()

	byHost := make(map[string]int64)
	for rows.Next() {
		var rawURL string
		var count int64
		if err := rows.Scan(&rawURL, &count); err != nil {
			return nil, fmt.Errorf("scan url row: %w", err)
		}
		if host := extractHost(rawURL); host != "" {
			byHost[host] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for host, count := range byHost {
		stats.TopHosts = append(stats.TopHosts, HostCount{Host: host, Count: count})
	}
	sort.Slice(stats.TopHosts, func(i, j int) bool {
		if stats.TopHosts[i].Count != stats.TopHosts[j].Count {
			return stats.TopHosts[i].Count > stats.TopHosts[j].Count
		}
		return stats.TopHosts[i].Host < stats.TopHosts[j].Host
	})
	if len(stats.TopHosts) > 10 {
		stats.TopHosts = stats.TopHosts[:10]
	}

	return stats, nil
}

// extractHost pulls the hostname from a URL string.
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
