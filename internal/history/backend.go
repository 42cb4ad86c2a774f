package history

import (
	"context"
	"log/slog"
)

// HistoryObserver receives change notifications after the owning service
// commits writes to the on-disk store. Notification order matches commit
// order.
type HistoryObserver interface {
	OnVisited(ctx context.Context, urlRow URLRow, visitRow VisitRow)
	OnURLsModified(ctx context.Context, rows []URLRow)
	OnURLsDeleted(ctx context.Context, info DeletionInfo)
	OnKeywordTermUpdated(ctx context.Context, row URLRow, keywordID int64, term string)
	OnKeywordTermDeleted(ctx context.Context, urlID int64)
}

// InMemoryBackend keeps an InMemoryDatabase in step with the on-disk store
// by observing committed changes. Mirror write failures are logged and
// swallowed: the mirror is derived data and is rebuilt from disk on the
// next startup, so an inconsistent mirror must never fail the primary
// write path.
type InMemoryBackend struct {
	mem    *InMemoryDatabase
	logger *slog.Logger
}

// NewInMemoryBackend wraps an initialized mirror.
func NewInMemoryBackend(mem *InMemoryDatabase, logger *slog.Logger) *InMemoryBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBackend{mem: mem, logger: logger}
}

// DB exposes the mirror for autocomplete reads.
func (b *InMemoryBackend) DB() *InMemoryDatabase { return b.mem }

// OnVisited applies one committed visit's updated URL row to the mirror.
// The visit row itself is not mirrored; only the URL aggregates matter.
func (b *InMemoryBackend) OnVisited(ctx context.Context, urlRow URLRow, _ VisitRow) {
	b.applyURLRow(ctx, urlRow)
}

// OnURLsModified applies a batch of committed URL row updates.
func (b *InMemoryBackend) OnURLsModified(ctx context.Context, rows []URLRow) {
	for _, row := range rows {
		b.applyURLRow(ctx, row)
	}
}

// applyURLRow upserts a row that belongs in the mirror and evicts one that
// no longer does. A row belongs when it has been typed, or when a keyword
// search term keeps it alive.
func (b *InMemoryBackend) applyURLRow(ctx context.Context, row URLRow) {
	keep := row.TypedCount > 0
	if !keep {
		term, err := b.mem.URLs.GetKeywordSearchTermRow(ctx, row.ID)
		if err != nil {
			b.logger.Warn("mirror keyword lookup failed", "url_id", row.ID, "error", err)
			return
		}
		keep = term != nil
	}

	if keep {
		if err := b.mem.URLs.InsertOrUpdateURLRowByID(ctx, &row); err != nil {
			b.logger.Warn("mirror upsert failed", "url_id", row.ID, "error", err)
		}
		return
	}
	if err := b.mem.URLs.DeleteURLRow(ctx, row.ID); err != nil {
		b.logger.Warn("mirror evict failed", "url_id", row.ID, "error", err)
	}
}

// OnURLsDeleted removes deleted rows from the mirror. An all-history
// deletion rebuilds the mirror empty instead of replaying row deletes.
func (b *InMemoryBackend) OnURLsDeleted(ctx context.Context, info DeletionInfo) {
	if info.IsAllHistory {
		if err := b.mem.reset(ctx); err != nil {
			b.logger.Warn("mirror reset failed", "error", err)
		}
		return
	}
	for _, row := range info.DeletedRows {
		if err := b.mem.URLs.DeleteURLRow(ctx, row.ID); err != nil {
			b.logger.Warn("mirror delete failed", "url_id", row.ID, "error", err)
		}
	}
}

// OnKeywordTermUpdated mirrors a keyword search term write. The URL row is
// upserted first so the term always has a row to hang off, even when the
// URL was never typed.
func (b *InMemoryBackend) OnKeywordTermUpdated(ctx context.Context, row URLRow, keywordID int64, term string) {
	if err := b.mem.URLs.InsertOrUpdateURLRowByID(ctx, &row); err != nil {
		b.logger.Warn("mirror upsert failed", "url_id", row.ID, "error", err)
		return
	}
	if err := b.mem.URLs.SetKeywordSearchTermForURL(ctx, row.ID, keywordID, term); err != nil {
		b.logger.Warn("mirror keyword write failed", "url_id", row.ID, "error", err)
	}
}

// OnKeywordTermDeleted mirrors a keyword search term removal, evicting the
// URL row too when only the term was keeping it in the mirror.
func (b *InMemoryBackend) OnKeywordTermDeleted(ctx context.Context, urlID int64) {
	if err := b.mem.URLs.DeleteKeywordSearchTermForURL(ctx, urlID); err != nil {
		b.logger.Warn("mirror keyword delete failed", "url_id", urlID, "error", err)
		return
	}
	row, err := b.mem.URLs.GetURLRow(ctx, urlID)
	if err != nil {
		b.logger.Warn("mirror lookup failed", "url_id", urlID, "error", err)
		return
	}
	if row != nil && row.TypedCount == 0 {
		if err := b.mem.URLs.DeleteURLRow(ctx, urlID); err != nil {
			b.logger.Warn("mirror evict failed", "url_id", urlID, "error", err)
		}
	}
}

var _ HistoryObserver = (*InMemoryBackend)(nil)
