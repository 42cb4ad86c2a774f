package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// VisitedLinkTable maintains privacy-partitioned visit counts keyed by the
// (link URL, top-level URL, frame URL) triple, so :visited styling can be
// scoped to the context a link was actually clicked in.
type VisitedLinkTable struct {
	db     *sql.DB
	logger *slog.Logger
}

// GetRowForVisitedLink looks up the aggregate row for an exact partition
// triple. Returns nil when absent.
func (t *VisitedLinkTable) GetRowForVisitedLink(ctx context.Context, linkURLID int64, topLevelURL, frameURL string) (*VisitedLinkRow, error) {
	var row VisitedLinkRow
	err := t.db.QueryRowContext(ctx, `
		SELECT id, link_url_id, top_level_url, frame_url, visit_count
		FROM visited_links
		WHERE link_url_id = ? AND top_level_url = ? AND frame_url = ?`,
		linkURLID, topLevelURL, frameURL).
		Scan(&row.ID, &row.LinkURLID, &row.TopLevelURL, &row.FrameURL, &row.VisitCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visited link: %w", err)
	}
	return &row, nil
}

// AddVisitedLink inserts a new partition triple with an initial count and
// returns its id.
func (t *VisitedLinkTable) AddVisitedLink(ctx context.Context, linkURLID int64, topLevelURL, frameURL string, visitCount int) (int64, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO visited_links (link_url_id, top_level_url, frame_url, visit_count)
		VALUES (?, ?, ?, ?)`,
		linkURLID, topLevelURL, frameURL, visitCount)
	if err != nil {
		return 0, fmt.Errorf("add visited link: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateVisitedLinkRowVisitCount sets the count on an existing row. The
// bool reports whether a row was actually updated.
func (t *VisitedLinkTable) UpdateVisitedLinkRowVisitCount(ctx context.Context, id int64, visitCount int) (bool, error) {
	res, err := t.db.ExecContext(ctx,
		`UPDATE visited_links SET visit_count = ? WHERE id = ?`, visitCount, id)
	if err != nil {
		return false, fmt.Errorf("update visited link count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteVisitedLinksForURL removes every partition row whose link URL is
// the given id, across all contexts. Owners call this alongside URL row
// deletion.
func (t *VisitedLinkTable) DeleteVisitedLinksForURL(ctx context.Context, linkURLID int64) error {
	if _, err := t.db.ExecContext(ctx,
		`DELETE FROM visited_links WHERE link_url_id = ?`, linkURLID); err != nil {
		return fmt.Errorf("delete visited links for url: %w", err)
	}
	return nil
}
