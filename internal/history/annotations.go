package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// AnnotationsTable stores derived metadata keyed by visit id: content
// annotations (what the page was about), context annotations (the state of
// the browser around the visit), and clusters grouping related visits.
// Every reference back to the visits table is weak.
type AnnotationsTable struct {
	db     *sql.DB
	logger *slog.Logger
}

// AddContentAnnotationsForVisit inserts the content annotation row for a
// visit. At most one row per visit exists.
func (t *AnnotationsTable) AddContentAnnotationsForVisit(ctx context.Context, visitID int64, a *ContentAnnotations) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO content_annotations (visit_id, visibility_score, categories,
			entities, related_searches, search_normalized_url, search_terms,
			alternative_title, page_language, password_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		visitID, a.VisibilityScore, serializeCategories(a.Categories),
		serializeCategories(a.Entities), strings.Join(a.RelatedSearches, "|"),
		a.SearchNormalizedURL, a.SearchTerms, a.AlternativeTitle,
		a.PageLanguage, int(a.PasswordState))
	if err != nil {
		return fmt.Errorf("add content annotations: %w", err)
	}
	return nil
}

// UpdateContentAnnotationsForVisit rewrites an existing content annotation
// row; it errors when the visit has none.
func (t *AnnotationsTable) UpdateContentAnnotationsForVisit(ctx context.Context, visitID int64, a *ContentAnnotations) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE content_annotations SET visibility_score = ?, categories = ?,
			entities = ?, related_searches = ?, search_normalized_url = ?,
			search_terms = ?, alternative_title = ?, page_language = ?,
			password_state = ?
		WHERE visit_id = ?`,
		a.VisibilityScore, serializeCategories(a.Categories),
		serializeCategories(a.Entities), strings.Join(a.RelatedSearches, "|"),
		a.SearchNormalizedURL, a.SearchTerms, a.AlternativeTitle,
		a.PageLanguage, int(a.PasswordState), visitID)
	if err != nil {
		return fmt.Errorf("update content annotations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update content annotations: visit %d has none", visitID)
	}
	return nil
}

// GetContentAnnotationsForVisit returns the content annotation row for a
// visit, or nil when it has none.
func (t *AnnotationsTable) GetContentAnnotationsForVisit(ctx context.Context, visitID int64) (*ContentAnnotations, error) {
	var a ContentAnnotations
	var categories, entities, relatedSearches string
	var passwordState int
	err := t.db.QueryRowContext(ctx, `
		SELECT visibility_score, categories, entities, related_searches,
			search_normalized_url, search_terms, alternative_title,
			page_language, password_state
		FROM content_annotations WHERE visit_id = ?`, visitID).
		Scan(&a.VisibilityScore, &categories, &entities, &relatedSearches,
			&a.SearchNormalizedURL, &a.SearchTerms, &a.AlternativeTitle,
			&a.PageLanguage, &passwordState)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get content annotations: %w", err)
	}
	a.Categories = deserializeCategories(categories)
	a.Entities = deserializeCategories(entities)
	if relatedSearches != "" {
		a.RelatedSearches = strings.Split(relatedSearches, "|")
	}
	a.PasswordState = PasswordState(passwordState)
	return &a, nil
}

// AddContextAnnotationsForVisit inserts the context annotation row for a
// visit.
func (t *AnnotationsTable) AddContextAnnotationsForVisit(ctx context.Context, visitID int64, a *ContextAnnotations) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO context_annotations (visit_id, context_annotation_flags,
			duration_since_last_visit, page_end_reason, total_foreground_duration)
		VALUES (?, ?, ?, ?, ?)`,
		visitID, int64(a.Flags), toDBDuration(a.DurationSinceLastVisit),
		a.PageEndReason, toDBDuration(a.TotalForegroundDuration))
	if err != nil {
		return fmt.Errorf("add context annotations: %w", err)
	}
	return nil
}

// UpdateContextAnnotationsForVisit rewrites an existing context annotation
// row; it errors when the visit has none.
func (t *AnnotationsTable) UpdateContextAnnotationsForVisit(ctx context.Context, visitID int64, a *ContextAnnotations) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE context_annotations SET context_annotation_flags = ?,
			duration_since_last_visit = ?, page_end_reason = ?,
			total_foreground_duration = ?
		WHERE visit_id = ?`,
		int64(a.Flags), toDBDuration(a.DurationSinceLastVisit),
		a.PageEndReason, toDBDuration(a.TotalForegroundDuration), visitID)
	if err != nil {
		return fmt.Errorf("update context annotations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update context annotations: visit %d has none", visitID)
	}
	return nil
}

// GetContextAnnotationsForVisit returns the context annotation row for a
// visit, or nil when it has none.
func (t *AnnotationsTable) GetContextAnnotationsForVisit(ctx context.Context, visitID int64) (*ContextAnnotations, error) {
	var a ContextAnnotations
	var flags, sinceLast, foreground int64
	err := t.db.QueryRowContext(ctx, `
		SELECT context_annotation_flags, duration_since_last_visit,
			page_end_reason, total_foreground_duration
		FROM context_annotations WHERE visit_id = ?`, visitID).
		Scan(&flags, &sinceLast, &a.PageEndReason, &foreground)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get context annotations: %w", err)
	}
	a.Flags = ContextAnnotationFlags(flags)
	a.DurationSinceLastVisit = fromDBDuration(sinceLast)
	a.TotalForegroundDuration = fromDBDuration(foreground)
	return &a, nil
}

// DeleteAnnotationsForVisit removes a visit's content annotations, context
// annotations, and cluster memberships. Each delete is attempted even if
// an earlier one fails; annotation rows are derived data, so failures are
// logged rather than propagated.
func (t *AnnotationsTable) DeleteAnnotationsForVisit(ctx context.Context, visitID int64) {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM content_annotations WHERE visit_id = ?`, visitID); err != nil {
		t.logger.Warn("content annotations delete failed", "visit_id", visitID, "error", err)
	}
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM context_annotations WHERE visit_id = ?`, visitID); err != nil {
		t.logger.Warn("context annotations delete failed", "visit_id", visitID, "error", err)
	}
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM clusters_and_visits WHERE visit_id = ?`, visitID); err != nil {
		t.logger.Warn("cluster membership delete failed", "visit_id", visitID, "error", err)
	}
}

// MergeCategoryIntoVector merges one category into a vector: an existing
// entry with the same id keeps the maximum of the two weights, a new id is
// appended. Merging is idempotent and order-independent over weights.
func MergeCategoryIntoVector(c Category, vec []Category) []Category {
	for i := range vec {
		if vec[i].ID == c.ID {
			if c.Weight > vec[i].Weight {
				vec[i].Weight = c.Weight
			}
			return vec
		}
	}
	return append(vec, c)
}

// serializeCategories packs categories as "id:weight" pairs joined by
// commas. The inverse drops malformed entries instead of failing the read.
func serializeCategories(cats []Category) string {
	if len(cats) == 0 {
		return ""
	}
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = strconv.Itoa(c.ID) + ":" + strconv.Itoa(c.Weight)
	}
	return strings.Join(parts, ",")
}

func deserializeCategories(s string) []Category {
	if s == "" {
		return nil
	}
	var cats []Category
	for _, part := range strings.Split(s, ",") {
		id, weight, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		i, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		w, err := strconv.Atoi(weight)
		if err != nil {
			continue
		}
		cats = append(cats, Category{ID: i, Weight: w})
	}
	return cats
}

// AddClusters persists a batch of clusters, assigning each a fresh id and
// writing one membership row per visit. Clusters with no visits are
// skipped. The ids in the input are ignored; the assigned ids are written
// back.
func (t *AnnotationsTable) AddClusters(ctx context.Context, clusters []Cluster) error {
	for i := range clusters {
		c := &clusters[i]
		if len(c.Visits) == 0 {
			continue
		}
		res, err := t.db.ExecContext(ctx,
			`INSERT INTO clusters (score) VALUES (?)`, c.Score)
		if err != nil {
			return fmt.Errorf("add cluster: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		c.ID = id
		for _, v := range c.Visits {
			if _, err := t.db.ExecContext(ctx, `
				INSERT INTO clusters_and_visits (cluster_id, visit_id, score)
				VALUES (?, ?, ?)`, id, v.VisitID, v.Score); err != nil {
				return fmt.Errorf("add cluster visit: %w", err)
			}
		}
	}
	return nil
}

// GetMostRecentClusterIDs returns ids of clusters whose most recent member
// visit falls in [begin, end), newest cluster activity first, capped at
// maxClusters. A zero end is unbounded.
func (t *AnnotationsTable) GetMostRecentClusterIDs(ctx context.Context, begin, end time.Time, maxClusters int) ([]int64, error) {
	endBound := int64(math.MaxInt64)
	if !end.IsZero() {
		endBound = toDBTime(end)
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT cv.cluster_id FROM clusters_and_visits cv
		JOIN visits v ON cv.visit_id = v.id
		GROUP BY cv.cluster_id
		HAVING MAX(v.visit_time) >= ? AND MAX(v.visit_time) < ?
		ORDER BY MAX(v.visit_time) DESC
		LIMIT ?`, toDBTime(begin), endBound, maxClusters)
	if err != nil {
		return nil, fmt.Errorf("recent cluster ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetVisitIDsInCluster returns the member visit ids of a cluster in
// ascending visit-id order.
func (t *AnnotationsTable) GetVisitIDsInCluster(ctx context.Context, clusterID int64) ([]int64, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT visit_id FROM clusters_and_visits
		WHERE cluster_id = ? ORDER BY visit_id ASC`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("visit ids in cluster: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsVisitClustered reports whether a visit belongs to any cluster.
func (t *AnnotationsTable) IsVisitClustered(ctx context.Context, visitID int64) (bool, error) {
	var one int
	err := t.db.QueryRowContext(ctx,
		`SELECT 1 FROM clusters_and_visits WHERE visit_id = ? LIMIT 1`,
		visitID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is visit clustered: %w", err)
	}
	return true, nil
}

// DeleteClusters removes clusters and their membership rows. An empty id
// list is a no-op.
func (t *AnnotationsTable) DeleteClusters(ctx context.Context, clusterIDs []int64) error {
	if len(clusterIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(clusterIDs)), ", ")
	args := make([]any, len(clusterIDs))
	for i, id := range clusterIDs {
		args[i] = id
	}
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM clusters_and_visits WHERE cluster_id IN (`+placeholders+`)`,
		args...); err != nil {
		return fmt.Errorf("delete cluster memberships: %w", err)
	}
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM clusters WHERE cluster_id IN (`+placeholders+`)`,
		args...); err != nil {
		return fmt.Errorf("delete clusters: %w", err)
	}
	return nil
}
