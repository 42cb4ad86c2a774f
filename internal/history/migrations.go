package history

import (
	"context"
	"fmt"
)

// Schema versioning. currentVersion is what this build writes;
// compatibleVersion is the oldest build that can still open a store
// written by this one. Stores older than oldestMigratableVersion cannot
// be upgraded at all.
const (
	currentVersion          = 58
	compatibleVersion       = 16
	oldestMigratableVersion = 15
)

// migrationStep transforms the schema from exactly one version to the
// next. Steps are self-contained and run inside the single initialization
// transaction; the stored version is bumped immediately after each apply
// so the on-disk state never reflects a half-applied step.
type migrationStep struct {
	fromVersion int
	name        string
	apply       func(ctx context.Context, d *Database) error
}

// migrate drives the store from version `from` up to currentVersion,
// strictly in order with no skipping. The first failing step aborts the
// whole sequence with a MigrationError; the store must then be treated as
// unusable.
func (d *Database) migrate(ctx context.Context, from int) error {
	if from < oldestMigratableVersion {
		return &MigrationError{
			FromVersion: from,
			Err:         fmt.Errorf("version %d is too old to migrate", from),
		}
	}

	steps := make(map[int]migrationStep, len(migrationSteps))
	for _, s := range migrationSteps {
		steps[s.fromVersion] = s
	}

	for version := from; version < currentVersion; version++ {
		step, ok := steps[version]
		if !ok {
			return &MigrationError{
				FromVersion: version,
				Err:         fmt.Errorf("no migration step registered"),
			}
		}
		if err := step.apply(ctx, d); err != nil {
			return &MigrationError{
				FromVersion: version,
				Err:         fmt.Errorf("%s: %w", step.name, err),
			}
		}
		if err := d.setMetaInt(ctx, metaVersionKey, version+1); err != nil {
			return &MigrationError{
				FromVersion: version,
				Err:         fmt.Errorf("advance version: %w", err),
			}
		}
	}
	return nil
}

// execAll runs a list of statements, stopping at the first failure.
func (d *Database) execAll(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func execStep(stmts ...string) func(ctx context.Context, d *Database) error {
	return func(ctx context.Context, d *Database) error {
		return d.execAll(ctx, stmts)
	}
}

// migrationSteps is the full linear history from the oldest migratable
// schema to the current one. Keep this list append-only: reordering or
// editing shipped steps breaks stores that are mid-chain.
var migrationSteps = []migrationStep{
	{15, "index visits by time", execStep(
		`CREATE INDEX IF NOT EXISTS visits_time_index ON visits(visit_time)`,
	)},
	{16, "raise compatible version for new time format", func(ctx context.Context, d *Database) error {
		return d.setMetaInt(ctx, metaCompatibleVersionKey, 16)
	}},
	{17, "drop urls favicon_id column", execStep(
		`CREATE TABLE urls_tmp (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			url             TEXT NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			visit_count     INTEGER NOT NULL DEFAULT 0,
			typed_count     INTEGER NOT NULL DEFAULT 0,
			last_visit_time INTEGER NOT NULL DEFAULT 0,
			hidden          INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT INTO urls_tmp (id, url, title, visit_count, typed_count, last_visit_time, hidden)
			SELECT id, url, title, visit_count, typed_count, last_visit_time, hidden FROM urls`,
		`DROP TABLE urls`,
		`ALTER TABLE urls_tmp RENAME TO urls`,
		`CREATE UNIQUE INDEX urls_url_index ON urls(url)`,
	)},
	{18, "add visit_duration", execStep(
		`ALTER TABLE visits ADD COLUMN visit_duration INTEGER NOT NULL DEFAULT 0`,
	)},
	{19, "index visits by referrer", execStep(
		`CREATE INDEX IF NOT EXISTS visits_from_index ON visits(from_visit)`,
	)},
	{20, "purge orphaned keyword search terms", execStep(
		`DELETE FROM keyword_search_terms WHERE url_id NOT IN (SELECT id FROM urls)`,
	)},
	{21, "add normalized search term", execStep(
		`ALTER TABLE keyword_search_terms ADD COLUMN normalized_term TEXT NOT NULL DEFAULT ''`,
		`UPDATE keyword_search_terms SET normalized_term = lower(trim(term))`,
	)},
	{22, "repair dangling referrers", execStep(
		`UPDATE visits SET from_visit = 0
			WHERE from_visit != 0 AND from_visit NOT IN (SELECT id FROM visits)`,
	)},
	{23, "rewrite visits with autoincrement ids", execStep(
		// Visit ids must never be reused within a store's lifetime; sync
		// equivalence depends on it.
		`CREATE TABLE visits_tmp (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			url            INTEGER NOT NULL,
			visit_time     INTEGER NOT NULL,
			from_visit     INTEGER NOT NULL DEFAULT 0,
			transition     INTEGER NOT NULL DEFAULT 0,
			segment_id     INTEGER NOT NULL DEFAULT 0,
			visit_duration INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT INTO visits_tmp (id, url, visit_time, from_visit, transition, segment_id, visit_duration)
			SELECT id, url, visit_time, from_visit, transition, segment_id, visit_duration FROM visits`,
		`DROP TABLE visits`,
		`ALTER TABLE visits_tmp RENAME TO visits`,
		`CREATE INDEX visits_url_index ON visits(url)`,
		`CREATE INDEX visits_time_index ON visits(visit_time)`,
		`CREATE INDEX visits_from_index ON visits(from_visit)`,
	)},
	{24, "track typed_count increments per visit", execStep(
		`ALTER TABLE visits ADD COLUMN incremented_omnibox_typed_score INTEGER NOT NULL DEFAULT 0`,
		`UPDATE visits SET incremented_omnibox_typed_score = 1 WHERE (transition & 255) = 1`,
	)},
	{25, "add visit_source table", execStep(
		`CREATE TABLE IF NOT EXISTS visit_source (
			id     INTEGER PRIMARY KEY,
			source INTEGER NOT NULL
		)`,
	)},
	{26, "add content annotations table", execStep(
		`CREATE TABLE IF NOT EXISTS content_annotations (
			visit_id         INTEGER PRIMARY KEY,
			visibility_score REAL NOT NULL DEFAULT -1,
			categories       TEXT NOT NULL DEFAULT ''
		)`,
	)},
	{27, "add annotated entities", execStep(
		`ALTER TABLE content_annotations ADD COLUMN entities TEXT NOT NULL DEFAULT ''`,
	)},
	{28, "add related searches", execStep(
		`ALTER TABLE content_annotations ADD COLUMN related_searches TEXT NOT NULL DEFAULT ''`,
	)},
	{29, "add context annotations table", execStep(
		`CREATE TABLE IF NOT EXISTS context_annotations (
			visit_id                  INTEGER PRIMARY KEY,
			context_annotation_flags  INTEGER NOT NULL DEFAULT 0,
			duration_since_last_visit INTEGER NOT NULL DEFAULT -1
		)`,
	)},
	{30, "add page end reason", execStep(
		`ALTER TABLE context_annotations ADD COLUMN page_end_reason INTEGER NOT NULL DEFAULT 0`,
	)},
	{31, "add total foreground duration", execStep(
		`ALTER TABLE context_annotations ADD COLUMN total_foreground_duration INTEGER NOT NULL DEFAULT -1`,
	)},
	{32, "add cluster tables", execStep(
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
	)},
	{33, "add normalized search url annotation", execStep(
		`ALTER TABLE content_annotations ADD COLUMN search_normalized_url TEXT NOT NULL DEFAULT ''`,
	)},
	{34, "add search terms annotation", execStep(
		`ALTER TABLE content_annotations ADD COLUMN search_terms TEXT NOT NULL DEFAULT ''`,
	)},
	{35, "purge orphaned content annotations", execStep(
		`DELETE FROM content_annotations WHERE visit_id NOT IN (SELECT id FROM visits)`,
	)},
	{36, "add alternative title annotation", execStep(
		`ALTER TABLE content_annotations ADD COLUMN alternative_title TEXT NOT NULL DEFAULT ''`,
	)},
	{37, "add page language annotation", execStep(
		`ALTER TABLE content_annotations ADD COLUMN page_language TEXT NOT NULL DEFAULT ''`,
	)},
	{38, "add password state annotation", execStep(
		`ALTER TABLE content_annotations ADD COLUMN password_state INTEGER NOT NULL DEFAULT 0`,
	)},
	{39, "add opener visit", execStep(
		`ALTER TABLE visits ADD COLUMN opener_visit INTEGER NOT NULL DEFAULT 0`,
	)},
	{40, "add originator identity", execStep(
		`ALTER TABLE visits ADD COLUMN originator_cache_guid TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE visits ADD COLUMN originator_visit_id INTEGER NOT NULL DEFAULT 0`,
	)},
	{41, "index visits by originator id", execStep(
		`CREATE INDEX IF NOT EXISTS visits_originator_id_index ON visits(originator_visit_id)`,
	)},
	{42, "add originator graph references", execStep(
		`ALTER TABLE visits ADD COLUMN originator_from_visit INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE visits ADD COLUMN originator_opener_visit INTEGER NOT NULL DEFAULT 0`,
	)},
	{43, "track sync acknowledgement", execStep(
		`ALTER TABLE visits ADD COLUMN is_known_to_sync INTEGER NOT NULL DEFAULT 0`,
		`UPDATE visits SET is_known_to_sync = 1 WHERE originator_cache_guid != ''`,
	)},
	{44, "add visited_links table", execStep(
		`CREATE TABLE IF NOT EXISTS visited_links (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			link_url_id   INTEGER NOT NULL,
			top_level_url TEXT NOT NULL,
			frame_url     TEXT NOT NULL,
			visit_count   INTEGER NOT NULL DEFAULT 0
		)`,
	)},
	{45, "index visited_links by triple key", execStep(
		`CREATE INDEX IF NOT EXISTS visited_links_index ON visited_links(link_url_id, top_level_url, frame_url)`,
	)},
	{46, "add external referrer url", execStep(
		`ALTER TABLE visits ADD COLUMN external_referrer_url TEXT NOT NULL DEFAULT ''`,
	)},
	{47, "clamp negative visit durations", execStep(
		`UPDATE visits SET visit_duration = 0 WHERE visit_duration < 0`,
	)},
	{48, "drop legacy lower_term column", execStep(
		`CREATE TABLE keyword_search_terms_tmp (
			keyword_id      INTEGER NOT NULL,
			url_id          INTEGER NOT NULL,
			term            TEXT NOT NULL,
			normalized_term TEXT NOT NULL
		)`,
		`INSERT INTO keyword_search_terms_tmp (keyword_id, url_id, term, normalized_term)
			SELECT keyword_id, url_id, term, normalized_term FROM keyword_search_terms`,
		`DROP TABLE keyword_search_terms`,
		`ALTER TABLE keyword_search_terms_tmp RENAME TO keyword_search_terms`,
	)},
	{49, "recreate keyword search term indexes", execStep(
		`CREATE INDEX IF NOT EXISTS keyword_search_terms_index ON keyword_search_terms(keyword_id, normalized_term)`,
		`CREATE INDEX IF NOT EXISTS keyword_search_terms_url_index ON keyword_search_terms(url_id)`,
	)},
	{50, "repair self-referencing visits", execStep(
		`UPDATE visits SET from_visit = 0 WHERE from_visit = id`,
	)},
	{51, "purge empty clusters", execStep(
		`DELETE FROM clusters WHERE cluster_id NOT IN (SELECT DISTINCT cluster_id FROM clusters_and_visits)`,
	)},
	{52, "purge orphaned cluster memberships", execStep(
		`DELETE FROM clusters_and_visits WHERE visit_id NOT IN (SELECT id FROM visits)`,
	)},
	{53, "index urls by typed_count", execStep(
		`CREATE INDEX IF NOT EXISTS urls_typed_index ON urls(typed_count)`,
	)},
	{54, "drop redundant browsed source rows", execStep(
		// A past bug wrote explicit rows for locally browsed visits; the
		// absence of a row already means browsed.
		`DELETE FROM visit_source WHERE source = 0`,
	)},
	{55, "unhide typed urls", execStep(
		`UPDATE urls SET hidden = 0 WHERE typed_count > 0`,
	)},
	{56, "normalize local originator fields", execStep(
		`UPDATE visits SET originator_visit_id = 0, originator_from_visit = 0, originator_opener_visit = 0
			WHERE originator_cache_guid = ''`,
	)},
	{57, "recreate segment usage index", execStep(
		`CREATE INDEX IF NOT EXISTS segment_usage_time_slot_segment_id ON segment_usage(time_slot, segment_id)`,
	)},
}
