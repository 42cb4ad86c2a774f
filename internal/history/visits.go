package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// VisitTable stores one row per navigation event and reconstructs the
// visit graph (referrer chains, redirect chains, opener links) from flat
// rows. Referrer and opener references are weak: they may point at rows
// that have since been expired, and resolve to "not found" in that case.
type VisitTable struct {
	db     *sql.DB
	logger *slog.Logger
}

const visitRowFields = `id, url, visit_time, from_visit, external_referrer_url, transition,
	segment_id, visit_duration, incremented_omnibox_typed_score, opener_visit,
	originator_cache_guid, originator_visit_id, originator_from_visit,
	originator_opener_visit, is_known_to_sync`

// visibleVisitPredicate is the SQL form of VisitRow.IsVisible. Every query
// that feeds user-facing results filters through this exact clause.
var visibleVisitPredicate = fmt.Sprintf(
	"(transition & %d) != 0 AND (transition & %d) NOT IN (%d, %d, %d)",
	TransitionChainEnd, TransitionCoreMask,
	TransitionAutoSubframe, TransitionManualSubframe, TransitionKeywordGenerated)

func scanVisitRow(scanner interface{ Scan(...any) error }) (*VisitRow, error) {
	var row VisitRow
	var visitTime, duration int64
	var transition int64
	if err := scanner.Scan(&row.ID, &row.URLID, &visitTime, &row.ReferringVisit,
		&row.ExternalReferrerURL, &transition, &row.SegmentID, &duration,
		&row.IncrementedOmniboxTypedScore, &row.OpenerVisit,
		&row.OriginatorCacheGUID, &row.OriginatorVisitID, &row.OriginatorReferringVisit,
		&row.OriginatorOpenerVisit, &row.IsKnownToSync); err != nil {
		return nil, err
	}
	row.VisitTime = fromDBTime(visitTime)
	row.Duration = time.Duration(duration) * time.Microsecond
	row.Transition = Transition(transition)
	return &row, nil
}

// AddVisit inserts a navigation event and returns its assigned id. When
// source is anything but SourceBrowsed, a sparse visit_source row is
// written too; the common case writes nothing extra. A visit_source write
// failure is logged and swallowed: losing provenance is non-fatal, losing
// the visit is not.
func (t *VisitTable) AddVisit(ctx context.Context, row *VisitRow, source VisitSource) (int64, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO visits (url, visit_time, from_visit, external_referrer_url, transition,
			segment_id, visit_duration, incremented_omnibox_typed_score, opener_visit,
			originator_cache_guid, originator_visit_id, originator_from_visit,
			originator_opener_visit, is_known_to_sync)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.URLID, toDBTime(row.VisitTime), row.ReferringVisit, row.ExternalReferrerURL,
		int64(row.Transition), row.SegmentID, row.Duration.Microseconds(),
		row.IncrementedOmniboxTypedScore, row.OpenerVisit,
		row.OriginatorCacheGUID, row.OriginatorVisitID, row.OriginatorReferringVisit,
		row.OriginatorOpenerVisit, row.IsKnownToSync)
	if err != nil {
		return 0, fmt.Errorf("add visit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == row.ReferringVisit {
		// A visit referring to itself is corruption; never persist it.
		_, _ = t.db.ExecContext(ctx, `DELETE FROM visits WHERE id = ?`, id)
		return 0, ErrSelfReferencingVisit
	}
	row.ID = id

	if source != SourceBrowsed {
		if _, err := t.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO visit_source (id, source) VALUES (?, ?)`,
			id, int(source)); err != nil {
			t.logger.Warn("visit source write failed", "visit_id", id, "error", err)
		}
	}
	return id, nil
}

// UpdateVisitRow rewrites an existing visit.
func (t *VisitTable) UpdateVisitRow(ctx context.Context, row *VisitRow) error {
	if row.ID == row.ReferringVisit {
		return ErrSelfReferencingVisit
	}
	res, err := t.db.ExecContext(ctx, `
		UPDATE visits SET url = ?, visit_time = ?, from_visit = ?, external_referrer_url = ?,
			transition = ?, segment_id = ?, visit_duration = ?,
			incremented_omnibox_typed_score = ?, opener_visit = ?,
			originator_cache_guid = ?, originator_visit_id = ?, originator_from_visit = ?,
			originator_opener_visit = ?, is_known_to_sync = ?
		WHERE id = ?`,
		row.URLID, toDBTime(row.VisitTime), row.ReferringVisit, row.ExternalReferrerURL,
		int64(row.Transition), row.SegmentID, row.Duration.Microseconds(),
		row.IncrementedOmniboxTypedScore, row.OpenerVisit,
		row.OriginatorCacheGUID, row.OriginatorVisitID, row.OriginatorReferringVisit,
		row.OriginatorOpenerVisit, row.IsKnownToSync, row.ID)
	if err != nil {
		return fmt.Errorf("update visit row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update visit row: id %d not found", row.ID)
	}
	return nil
}

// GetRowForVisit fetches one visit by id. Returns nil when absent.
func (t *VisitTable) GetRowForVisit(ctx context.Context, id int64) (*VisitRow, error) {
	row, err := scanVisitRow(t.db.QueryRowContext(ctx,
		`SELECT `+visitRowFields+` FROM visits WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visit row: %w", err)
	}
	return row, nil
}

// GetRowForForeignVisit fetches the local row for a visit replicated from
// another device, by exact originator identity. Used by sync
// reconciliation.
func (t *VisitTable) GetRowForForeignVisit(ctx context.Context, originatorGUID string, originatorVisitID int64) (*VisitRow, error) {
	row, err := scanVisitRow(t.db.QueryRowContext(ctx,
		`SELECT `+visitRowFields+` FROM visits
		WHERE originator_cache_guid = ? AND originator_visit_id = ?`,
		originatorGUID, originatorVisitID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get foreign visit row: %w", err)
	}
	return row, nil
}

// GetLastRowForVisitByVisitTime returns the visit with the highest id
// among those sharing the exact timestamp: the end of a redirect chain,
// since all links of a chain share one visit_time.
func (t *VisitTable) GetLastRowForVisitByVisitTime(ctx context.Context, visitTime time.Time) (*VisitRow, error) {
	row, err := scanVisitRow(t.db.QueryRowContext(ctx,
		`SELECT `+visitRowFields+` FROM visits WHERE visit_time = ? ORDER BY id DESC LIMIT 1`,
		toDBTime(visitTime)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last visit by time: %w", err)
	}
	return row, nil
}

// GetVisitSource reports where a visit came from. Rows without an explicit
// source entry were browsed locally.
func (t *VisitTable) GetVisitSource(ctx context.Context, id int64) (VisitSource, error) {
	var source int
	err := t.db.QueryRowContext(ctx,
		`SELECT source FROM visit_source WHERE id = ?`, id).Scan(&source)
	if err == sql.ErrNoRows {
		return SourceBrowsed, nil
	}
	if err != nil {
		return SourceBrowsed, fmt.Errorf("get visit source: %w", err)
	}
	return VisitSource(source), nil
}

// DeleteVisit removes a visit. Any visit that referred to this one is
// first re-linked to this visit's own referrer, stitching over the deleted
// node so referrer chains stay traceable after expiry.
func (t *VisitTable) DeleteVisit(ctx context.Context, row *VisitRow) error {
	if _, err := t.db.ExecContext(ctx,
		`UPDATE visits SET from_visit = ? WHERE from_visit = ?`,
		row.ReferringVisit, row.ID); err != nil {
		return fmt.Errorf("stitch referrers: %w", err)
	}
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM visit_source WHERE id = ?`, row.ID); err != nil {
		t.logger.Warn("visit source delete failed", "visit_id", row.ID, "error", err)
	}
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM visits WHERE id = ?`, row.ID); err != nil {
		return fmt.Errorf("delete visit: %w", err)
	}
	return nil
}

// GetAllVisitsInRange returns visits in [Begin, End) without visibility
// filtering or deduplication. The bool reports whether MaxCount truncated
// the results.
func (t *VisitTable) GetAllVisitsInRange(ctx context.Context, opts QueryOptions) ([]VisitRow, bool, error) {
	opts.DuplicatePolicy = KeepAllDuplicates
	return t.queryVisits(ctx, opts, false, "", nil)
}

// GetVisibleVisitsInRange returns user-visible visits in [Begin, End),
// applying the visibility predicate before the duplicate policy. The bool
// reports whether MaxCount truncated the results.
func (t *VisitTable) GetVisibleVisitsInRange(ctx context.Context, opts QueryOptions) ([]VisitRow, bool, error) {
	return t.queryVisits(ctx, opts, true, "", nil)
}

// GetVisibleVisitsForURL is GetVisibleVisitsInRange restricted to one URL.
func (t *VisitTable) GetVisibleVisitsForURL(ctx context.Context, urlID int64, opts QueryOptions) ([]VisitRow, bool, error) {
	return t.queryVisits(ctx, opts, true, "url = ?", []any{urlID})
}

func (t *VisitTable) queryVisits(ctx context.Context, opts QueryOptions, visibleOnly bool, extraWhere string, extraArgs []any) ([]VisitRow, bool, error) {
	var clauses []string
	var args []any

	if !opts.Begin.IsZero() {
		clauses = append(clauses, "visit_time >= ?")
		args = append(args, toDBTime(opts.Begin))
	}
	if !opts.End.IsZero() {
		clauses = append(clauses, "visit_time < ?")
		args = append(args, toDBTime(opts.End))
	}
	if visibleOnly {
		clauses = append(clauses, visibleVisitPredicate)
	}
	if extraWhere != "" {
		clauses = append(clauses, extraWhere)
		args = append(args, extraArgs...)
	}

	query := `SELECT ` + visitRowFields + ` FROM visits`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	switch opts.Order {
	case OrderOldestFirst:
		query += " ORDER BY visit_time ASC, id ASC"
	default:
		query += " ORDER BY visit_time DESC, id DESC"
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var results []VisitRow
	seen := make(map[int64]struct{})
	var bucket time.Time
	limited := false

	for rows.Next() {
		row, err := scanVisitRow(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan visit row: %w", err)
		}

		switch opts.DuplicatePolicy {
		case RemoveDuplicatesPerDay:
			// The seen-set resets whenever the local-midnight bucket
			// changes. Results are time-ordered, so each bucket is a
			// contiguous run.
			day := localMidnight(row.VisitTime)
			if !day.Equal(bucket) {
				bucket = day
				seen = make(map[int64]struct{})
			}
			fallthrough
		case RemoveDuplicatesGlobal:
			if _, dup := seen[row.URLID]; dup {
				continue
			}
			seen[row.URLID] = struct{}{}
		}

		if opts.MaxCount > 0 && len(results) == opts.MaxCount {
			limited = true
			break
		}
		results = append(results, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return results, limited, nil
}

// localMidnight truncates a time to midnight in the local time zone.
func localMidnight(t time.Time) time.Time {
	local := t.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
}

// GetMostRecentVisitForURL returns the latest visit to a URL, ties broken
// by highest id. Returns nil when the URL has no visits.
func (t *VisitTable) GetMostRecentVisitForURL(ctx context.Context, urlID int64) (*VisitRow, error) {
	visits, err := t.GetMostRecentVisitsForURL(ctx, urlID, 1)
	if err != nil {
		return nil, err
	}
	if len(visits) == 0 {
		return nil, nil
	}
	return &visits[0], nil
}

// GetMostRecentVisitsForURL returns up to maxResults visits to a URL,
// newest first, ties broken by highest id.
func (t *VisitTable) GetMostRecentVisitsForURL(ctx context.Context, urlID int64, maxResults int) ([]VisitRow, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT `+visitRowFields+` FROM visits WHERE url = ?
		ORDER BY visit_time DESC, id DESC LIMIT ?`, urlID, maxResults)
	if err != nil {
		return nil, fmt.Errorf("recent visits for url: %w", err)
	}
	defer rows.Close()

	var results []VisitRow
	for rows.Next() {
		row, err := scanVisitRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit row: %w", err)
		}
		results = append(results, *row)
	}
	return results, rows.Err()
}

// CountVisitsForURL returns the total and typed-increment visit counts for
// one URL, for owners recomputing the denormalized urls aggregates.
func (t *VisitTable) CountVisitsForURL(ctx context.Context, urlID int64) (total, typed int, err error) {
	err = t.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(incremented_omnibox_typed_score), 0)
		FROM visits WHERE url = ?`, urlID).Scan(&total, &typed)
	if err != nil {
		return 0, 0, fmt.Errorf("count visits for url: %w", err)
	}
	return total, typed, nil
}

// GetRedirectFromVisit returns the visit that fromVisit redirected to,
// with its URL. When several redirects share one source, which is returned
// is unspecified. Returns (0, "", nil) when there is none.
func (t *VisitTable) GetRedirectFromVisit(ctx context.Context, fromVisit int64) (int64, string, error) {
	var toVisit int64
	var toURL string
	err := t.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT v.id, u.url FROM visits v JOIN urls u ON v.url = u.id
		WHERE v.from_visit = ? AND (v.transition & %d) != 0 LIMIT 1`,
		TransitionRedirectMask), fromVisit).Scan(&toVisit, &toURL)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("get redirect from visit: %w", err)
	}
	return toVisit, toURL, nil
}

// GetRedirectToVisit returns the visit that redirected to toVisit, with
// that source's URL. Returns (0, "", nil) when toVisit is not the target
// of a redirect.
func (t *VisitTable) GetRedirectToVisit(ctx context.Context, toVisit int64) (int64, string, error) {
	row, err := t.GetRowForVisit(ctx, toVisit)
	if err != nil || row == nil {
		return 0, "", err
	}
	if !row.Transition.IsRedirect() || row.ReferringVisit == 0 {
		return 0, "", nil
	}
	var fromURL string
	err = t.db.QueryRowContext(ctx, `
		SELECT u.url FROM visits v JOIN urls u ON v.url = u.id WHERE v.id = ?`,
		row.ReferringVisit).Scan(&fromURL)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("get redirect to visit: %w", err)
	}
	return row.ReferringVisit, fromURL, nil
}

// hostRangeBounds returns the half-open URL-string range covering every
// URL on scheme://hostPort. The upper bound swaps the trailing '/' for
// '0' (the next byte), which keeps the scan index-friendly; substring
// matching would not be.
func hostRangeBounds(scheme, hostPort string) (string, string) {
	lower := scheme + "://" + hostPort + "/"
	upper := lower[:len(lower)-1] + "0"
	return lower, upper
}

// parseHTTPURL splits a URL and rejects non-http(s) schemes, which host
// and origin queries are restricted to.
func parseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("host queries support only http/https, got %q", u.Scheme)
	}
	return u, nil
}

// GetVisibleVisitCountToHost counts user-visible visits to the host of
// rawURL on either http or https.
func (t *VisitTable) GetVisibleVisitCountToHost(ctx context.Context, rawURL string) (int, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return 0, err
	}
	httpLo, httpHi := hostRangeBounds("http", u.Host)
	httpsLo, httpsHi := hostRangeBounds("https", u.Host)

	var count int
	err = t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM visits v JOIN urls u ON v.url = u.id
		WHERE ((u.url >= ? AND u.url < ?) OR (u.url >= ? AND u.url < ?))
		AND `+visibleVisitPredicate,
		httpLo, httpHi, httpsLo, httpsHi).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("visit count to host: %w", err)
	}
	return count, nil
}

func (t *VisitTable) lastVisitTimeWhere(ctx context.Context, where string, args ...any) (time.Time, error) {
	var last sql.NullInt64
	err := t.db.QueryRowContext(ctx, `
		SELECT MAX(v.visit_time) FROM visits v JOIN urls u ON v.url = u.id
		WHERE `+where, args...).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("last visit time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return fromDBTime(last.Int64), nil
}

// GetLastVisitToHost returns the time of the latest visit to rawURL's host
// (either scheme) within [begin, end). Zero time when there is none.
func (t *VisitTable) GetLastVisitToHost(ctx context.Context, rawURL string, begin, end time.Time) (time.Time, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return time.Time{}, err
	}
	httpLo, httpHi := hostRangeBounds("http", u.Host)
	httpsLo, httpsHi := hostRangeBounds("https", u.Host)
	where, args := timeRangeClause(begin, end)
	return t.lastVisitTimeWhere(ctx,
		`((u.url >= ? AND u.url < ?) OR (u.url >= ? AND u.url < ?))`+where,
		append([]any{httpLo, httpHi, httpsLo, httpsHi}, args...)...)
}

// GetLastVisitToOrigin returns the time of the latest visit to rawURL's
// exact origin (scheme + host + port) within [begin, end).
func (t *VisitTable) GetLastVisitToOrigin(ctx context.Context, rawURL string, begin, end time.Time) (time.Time, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return time.Time{}, err
	}
	lo, hi := hostRangeBounds(u.Scheme, u.Host)
	where, args := timeRangeClause(begin, end)
	return t.lastVisitTimeWhere(ctx,
		`u.url >= ? AND u.url < ?`+where,
		append([]any{lo, hi}, args...)...)
}

// GetLastVisitToURL returns the time of the latest visit to the exact URL
// within [begin, end).
func (t *VisitTable) GetLastVisitToURL(ctx context.Context, rawURL string, begin, end time.Time) (time.Time, error) {
	where, args := timeRangeClause(begin, end)
	return t.lastVisitTimeWhere(ctx,
		`u.url = ?`+where,
		append([]any{rawURL}, args...)...)
}

func timeRangeClause(begin, end time.Time) (string, []any) {
	var clause string
	var args []any
	if !begin.IsZero() {
		clause += " AND v.visit_time >= ?"
		args = append(args, toDBTime(begin))
	}
	if !end.IsZero() {
		clause += " AND v.visit_time < ?"
		args = append(args, toDBTime(end))
	}
	return clause, args
}

// GetDailyVisitsToHost aggregates visits to rawURL's host within
// [begin, end): the total and the number of distinct local days touched.
func (t *VisitTable) GetDailyVisitsToHost(ctx context.Context, rawURL string, begin, end time.Time) (DailyVisitsResult, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return DailyVisitsResult{}, err
	}
	httpLo, httpHi := hostRangeBounds("http", u.Host)
	httpsLo, httpsHi := hostRangeBounds("https", u.Host)
	where, args := timeRangeClause(begin, end)

	var result DailyVisitsResult
	err = t.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT date(v.visit_time / 1000000, 'unixepoch', 'localtime'))
		FROM visits v JOIN urls u ON v.url = u.id
		WHERE ((u.url >= ? AND u.url < ?) OR (u.url >= ? AND u.url < ?))`+where,
		append([]any{httpLo, httpHi, httpsLo, httpsHi}, args...)...).
		Scan(&result.TotalVisits, &result.DaysWithVisits)
	if err != nil {
		return DailyVisitsResult{}, fmt.Errorf("daily visits to host: %w", err)
	}
	return result, nil
}

// GetHistoryCount counts distinct (local day, URL) pairs among visible
// visits in [begin, end): a URL visited twice in one day counts once.
func (t *VisitTable) GetHistoryCount(ctx context.Context, begin, end time.Time) (int, error) {
	var clauses []string
	var args []any
	clauses = append(clauses, visibleVisitPredicate)
	if !begin.IsZero() {
		clauses = append(clauses, "visit_time >= ?")
		args = append(args, toDBTime(begin))
	}
	if !end.IsZero() {
		clauses = append(clauses, "visit_time < ?")
		args = append(args, toDBTime(end))
	}

	var count int
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT DISTINCT url, date(visit_time / 1000000, 'unixepoch', 'localtime')
			FROM visits WHERE `+strings.Join(clauses, " AND ")+`
		)`, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("history count: %w", err)
	}
	return count, nil
}

var googleSearchHostRe = regexp.MustCompile(`^www\.google\.(?:com|[a-z]{2}|co\.[a-z]{2}|com\.[a-z]{2})$`)

// isGoogleSearchURL verifies in-process what the SQL LIKE patterns only
// approximate: a Google-domain host, the /search path, and a non-empty q
// parameter.
func isGoogleSearchURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !googleSearchHostRe.MatchString(u.Hostname()) {
		return false
	}
	if u.Path != "/search" {
		return false
	}
	return u.Query().Get("q") != ""
}

// GetGoogleDomainVisitsFromSearchesInRange extracts visible visits to
// Google-domain search result pages in [begin, end). Candidate rows are
// pattern-filtered in SQL, then verified in-process.
func (t *VisitTable) GetGoogleDomainVisitsFromSearchesInRange(ctx context.Context, begin, end time.Time) ([]GoogleDomainVisit, error) {
	var clauses []string
	var args []any
	clauses = append(clauses,
		"(u.url LIKE 'http://www.google.%' OR u.url LIKE 'https://www.google.%')",
		visibleVisitPredicate)
	if !begin.IsZero() {
		clauses = append(clauses, "v.visit_time >= ?")
		args = append(args, toDBTime(begin))
	}
	if !end.IsZero() {
		clauses = append(clauses, "v.visit_time < ?")
		args = append(args, toDBTime(end))
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT v.visit_time, u.url FROM visits v JOIN urls u ON v.url = u.id
		WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("google domain visits: %w", err)
	}
	defer rows.Close()

	var results []GoogleDomainVisit
	for rows.Next() {
		var visitTime int64
		var rawURL string
		if err := rows.Scan(&visitTime, &rawURL); err != nil {
			return nil, fmt.Errorf("scan google domain visit: %w", err)
		}
		if !isGoogleSearchURL(rawURL) {
			continue
		}
		results = append(results, GoogleDomainVisit{
			VisitTime: fromDBTime(visitTime),
			URL:       rawURL,
		})
	}
	return results, rows.Err()
}

// GetKnownToSyncCount counts visits already acknowledged by the sync
// engine.
func (t *VisitTable) GetKnownToSyncCount(ctx context.Context) (int, error) {
	var count int
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visits WHERE is_known_to_sync = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("known-to-sync count: %w", err)
	}
	return count, nil
}

// SetAllVisitsAsNotKnownToSync clears the sync acknowledgement on every
// visit, for when the sync engine resets its state.
func (t *VisitTable) SetAllVisitsAsNotKnownToSync(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx,
		`UPDATE visits SET is_known_to_sync = 0`); err != nil {
		return fmt.Errorf("clear known-to-sync: %w", err)
	}
	return nil
}

// UpdateVisitDuration backfills a visit's duration once the page is
// closed, computed against the stored visit_time. Negative spans clamp to
// zero.
func (t *VisitTable) UpdateVisitDuration(ctx context.Context, visitID int64, end time.Time) error {
	var visitTime int64
	err := t.db.QueryRowContext(ctx,
		`SELECT visit_time FROM visits WHERE id = ?`, visitID).Scan(&visitTime)
	if err == sql.ErrNoRows {
		return fmt.Errorf("update visit duration: id %d not found", visitID)
	}
	if err != nil {
		return fmt.Errorf("update visit duration: %w", err)
	}

	duration := end.Sub(fromDBTime(visitTime))
	if duration < 0 {
		duration = 0
	}
	if _, err := t.db.ExecContext(ctx,
		`UPDATE visits SET visit_duration = ? WHERE id = ?`,
		duration.Microseconds(), visitID); err != nil {
		return fmt.Errorf("update visit duration: %w", err)
	}
	return nil
}
