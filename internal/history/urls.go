package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// URLTable provides per-distinct-URL aggregate rows plus the keyword
// search terms keyed against them. URL matching is always by exact,
// normalized URL string.
type URLTable struct {
	db     *sql.DB
	logger *slog.Logger
}

const urlRowFields = `id, url, title, visit_count, typed_count, last_visit_time, hidden`

// Thresholds for GetSignificantURLs.
const (
	significantTypedCount = 1
	significantVisitCount = 4
	significantDays       = 3
)

func scanURLRow(scanner interface{ Scan(...any) error }) (*URLRow, error) {
	var row URLRow
	var lastVisit int64
	if err := scanner.Scan(&row.ID, &row.URL, &row.Title,
		&row.VisitCount, &row.TypedCount, &lastVisit, &row.Hidden); err != nil {
		return nil, err
	}
	row.LastVisit = fromDBTime(lastVisit)
	return &row, nil
}

// GetURLRow fetches a URL row by id. Returns nil when absent.
func (t *URLTable) GetURLRow(ctx context.Context, id int64) (*URLRow, error) {
	row, err := scanURLRow(t.db.QueryRowContext(ctx,
		`SELECT `+urlRowFields+` FROM urls WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get url row: %w", err)
	}
	return row, nil
}

// GetRowForURL fetches a URL row by exact URL string. Returns nil when
// absent.
func (t *URLTable) GetRowForURL(ctx context.Context, rawURL string) (*URLRow, error) {
	row, err := scanURLRow(t.db.QueryRowContext(ctx,
		`SELECT `+urlRowFields+` FROM urls WHERE url = ?`, rawURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get row for url: %w", err)
	}
	return row, nil
}

// AddURL inserts a new URL row and returns its assigned id, or 0 if a row
// for that exact URL already exists.
func (t *URLTable) AddURL(ctx context.Context, row *URLRow) (int64, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO urls (url, title, visit_count, typed_count, last_visit_time, hidden)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.URL, row.Title, row.VisitCount, row.TypedCount, toDBTime(row.LastVisit), row.Hidden)
	if err != nil {
		return 0, fmt.Errorf("add url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	row.ID = id
	return id, nil
}

// InsertOrUpdateURLRowByID upserts a row keyed by its explicit id. Used by
// the in-memory mirror synchronizer and sync-driven writes, where the
// authoritative store has already assigned the id.
func (t *URLTable) InsertOrUpdateURLRowByID(ctx context.Context, row *URLRow) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO urls (id, url, title, visit_count, typed_count, last_visit_time, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.URL, row.Title, row.VisitCount, row.TypedCount, toDBTime(row.LastVisit), row.Hidden)
	if err != nil {
		return fmt.Errorf("upsert url row: %w", err)
	}
	return nil
}

// UpdateURLRow rewrites the attributes of an existing row.
func (t *URLTable) UpdateURLRow(ctx context.Context, row *URLRow) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE urls SET url = ?, title = ?, visit_count = ?, typed_count = ?, last_visit_time = ?, hidden = ?
		WHERE id = ?`,
		row.URL, row.Title, row.VisitCount, row.TypedCount, toDBTime(row.LastVisit), row.Hidden, row.ID)
	if err != nil {
		return fmt.Errorf("update url row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update url row: id %d not found", row.ID)
	}
	return nil
}

// DeleteURLRow removes the URL row and its keyword search term rows. It
// does not cascade to visits: callers delete those separately, which is
// what lets "delete all but keep some typed URLs" work.
func (t *URLTable) DeleteURLRow(ctx context.Context, id int64) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM urls WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete url row: %w", err)
	}
	if err := t.DeleteKeywordSearchTermForURL(ctx, id); err != nil {
		return err
	}
	return nil
}

// CreateTemporaryURLTable creates the private staging table for a mass
// rewrite of the URL set. Large expiry runs insert survivors here instead
// of deleting row by row from the live, indexed table.
func (t *URLTable) CreateTemporaryURLTable(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE temp_urls (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			url             TEXT NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			visit_count     INTEGER NOT NULL DEFAULT 0,
			typed_count     INTEGER NOT NULL DEFAULT 0,
			last_visit_time INTEGER NOT NULL DEFAULT 0,
			hidden          INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("create temporary url table: %w", err)
	}
	return nil
}

// AddTemporaryURL inserts a row into the staging table. The id is
// reassigned; the returned value is the new id.
func (t *URLTable) AddTemporaryURL(ctx context.Context, row *URLRow) (int64, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO temp_urls (url, title, visit_count, typed_count, last_visit_time, hidden)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.URL, row.Title, row.VisitCount, row.TypedCount, toDBTime(row.LastVisit), row.Hidden)
	if err != nil {
		return 0, fmt.Errorf("add temporary url: %w", err)
	}
	return res.LastInsertId()
}

// CommitTemporaryURLTable atomically swaps the staging table in as the new
// urls table and rebuilds its indexes.
func (t *URLTable) CommitTemporaryURLTable(ctx context.Context) error {
	stmts := []string{
		`DROP TABLE urls`,
		`ALTER TABLE temp_urls RENAME TO urls`,
		`CREATE UNIQUE INDEX urls_url_index ON urls(url)`,
		`CREATE INDEX urls_typed_index ON urls(typed_count)`,
	}
	for _, stmt := range stmts {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("commit temporary url table (%s): %w", stmt, err)
		}
	}
	return nil
}

// AutocompleteForPrefix returns non-hidden rows whose URL starts with
// prefix, best first: typed_count desc, then visit_count desc, then
// last_visit_time desc. maxResults of 0 means unlimited; typedOnly
// restricts to rows with typed_count > 0.
func (t *URLTable) AutocompleteForPrefix(ctx context.Context, prefix string, maxResults int, typedOnly bool) ([]URLRow, error) {
	var clauses []string
	var args []any

	clauses = append(clauses, "hidden = 0")
	if prefix != "" {
		clauses = append(clauses, "url >= ?")
		args = append(args, prefix)
		if upper := prefixSearchUpperBound(prefix); upper != "" {
			clauses = append(clauses, "url < ?")
			args = append(args, upper)
		}
	}
	if typedOnly {
		clauses = append(clauses, "typed_count > 0")
	}

	query := `SELECT ` + urlRowFields + ` FROM urls WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY typed_count DESC, visit_count DESC, last_visit_time DESC`
	if maxResults > 0 {
		query += " LIMIT ?"
		args = append(args, maxResults)
	}

	return t.scanURLRows(ctx, query, args...)
}

// GetSignificantURLs enumerates URLs worth seeding into cheap offline
// indices: typed at least once, visited at least 4 times, or visited
// within the last 3 days.
func (t *URLTable) GetSignificantURLs(ctx context.Context) ([]URLRow, error) {
	threshold := toDBTime(time.Now().AddDate(0, 0, -significantDays))
	return t.scanURLRows(ctx, `
		SELECT `+urlRowFields+` FROM urls
		WHERE typed_count >= ? OR visit_count >= ? OR last_visit_time >= ?`,
		significantTypedCount, significantVisitCount, threshold)
}

// TextMatcher decides whether a URL row matches a free-text query. The
// real tokenizer lives in an external library; this layer only brute-force
// scans rows through it.
type TextMatcher interface {
	Matches(query, url, title string) bool
}

// FoldingTextMatcher matches when every whitespace-separated query word
// appears case-insensitively in the URL or the title.
type FoldingTextMatcher struct{}

func (FoldingTextMatcher) Matches(query, url, title string) bool {
	haystack := strings.ToLower(url) + " " + strings.ToLower(title)
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(haystack, word) {
			return false
		}
	}
	return true
}

// GetTextMatches scans every row against the matcher. Results are
// unordered.
func (t *URLTable) GetTextMatches(ctx context.Context, query string, matcher TextMatcher) ([]URLRow, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT `+urlRowFields+` FROM urls`)
	if err != nil {
		return nil, fmt.Errorf("text match scan: %w", err)
	}
	defer rows.Close()

	var matches []URLRow
	for rows.Next() {
		row, err := scanURLRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan url row: %w", err)
		}
		if matcher.Matches(query, row.URL, row.Title) {
			matches = append(matches, *row)
		}
	}
	return matches, rows.Err()
}

// SetKeywordSearchTermForURL records the search term that generated the
// URL for the given keyword, replacing any previous term for that URL.
func (t *URLTable) SetKeywordSearchTermForURL(ctx context.Context, urlID, keywordID int64, term string) error {
	if err := t.DeleteKeywordSearchTermForURL(ctx, urlID); err != nil {
		return err
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO keyword_search_terms (keyword_id, url_id, term, normalized_term)
		VALUES (?, ?, ?, ?)`,
		keywordID, urlID, term, normalizeSearchTerm(term))
	if err != nil {
		return fmt.Errorf("set keyword search term: %w", err)
	}
	return nil
}

// GetKeywordSearchTermRow fetches the term row for a URL. Returns nil when
// absent.
func (t *URLTable) GetKeywordSearchTermRow(ctx context.Context, urlID int64) (*KeywordSearchTermRow, error) {
	var row KeywordSearchTermRow
	err := t.db.QueryRowContext(ctx, `
		SELECT keyword_id, url_id, term, normalized_term
		FROM keyword_search_terms WHERE url_id = ?`, urlID).
		Scan(&row.KeywordID, &row.URLID, &row.Term, &row.NormalizedTerm)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get keyword search term: %w", err)
	}
	return &row, nil
}

// DeleteKeywordSearchTermForURL removes the term row(s) for a URL.
func (t *URLTable) DeleteKeywordSearchTermForURL(ctx context.Context, urlID int64) error {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM keyword_search_terms WHERE url_id = ?`, urlID); err != nil {
		return fmt.Errorf("delete keyword search term: %w", err)
	}
	return nil
}

// DeleteAllSearchTermsForKeyword removes every term row for one keyword.
func (t *URLTable) DeleteAllSearchTermsForKeyword(ctx context.Context, keywordID int64) error {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM keyword_search_terms WHERE keyword_id = ?`, keywordID); err != nil {
		return fmt.Errorf("delete search terms for keyword: %w", err)
	}
	return nil
}

// GetMostRecentKeywordSearchTerms returns term rows for one keyword whose
// normalized term starts with prefix, most recently visited URL first.
func (t *URLTable) GetMostRecentKeywordSearchTerms(ctx context.Context, keywordID int64, prefix string, maxCount int) ([]KeywordSearchTermRow, error) {
	query := `
		SELECT k.keyword_id, k.url_id, k.term, k.normalized_term
		FROM keyword_search_terms k JOIN urls u ON u.id = k.url_id
		WHERE k.keyword_id = ?`
	args := []any{keywordID}
	if prefix != "" {
		normalized := normalizeSearchTerm(prefix)
		query += ` AND k.normalized_term >= ?`
		args = append(args, normalized)
		if upper := prefixSearchUpperBound(normalized); upper != "" {
			query += ` AND k.normalized_term < ?`
			args = append(args, upper)
		}
	}
	query += ` ORDER BY u.last_visit_time DESC`
	if maxCount > 0 {
		query += ` LIMIT ?`
		args = append(args, maxCount)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent keyword search terms: %w", err)
	}
	defer rows.Close()

	var terms []KeywordSearchTermRow
	for rows.Next() {
		var row KeywordSearchTermRow
		if err := rows.Scan(&row.KeywordID, &row.URLID, &row.Term, &row.NormalizedTerm); err != nil {
			return nil, fmt.Errorf("scan keyword search term: %w", err)
		}
		terms = append(terms, row)
	}
	return terms, rows.Err()
}

func (t *URLTable) scanURLRows(ctx context.Context, query string, args ...any) ([]URLRow, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	var results []URLRow
	for rows.Next() {
		row, err := scanURLRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan url row: %w", err)
		}
		results = append(results, *row)
	}
	return results, rows.Err()
}

// normalizeSearchTerm lowercases and collapses internal whitespace.
func normalizeSearchTerm(term string) string {
	return strings.Join(strings.Fields(strings.ToLower(term)), " ")
}

// prefixSearchUpperBound returns the smallest string greater than every
// string with the given prefix, for index-friendly half-open range scans.
// A prefix of all 0xff bytes has no such string; the empty return means
// the range is unbounded above and the caller must drop the upper clause.
func prefixSearchUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
