package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitedLinks_PartitionedByTriple(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	linkID := addTestURL(t, db, "https://linked.test/")

	id1, err := db.VisitedLinks.AddVisitedLink(ctx, linkID, "https://site-a.test/", "https://frame-a.test/", 1)
	require.NoError(t, err)
	id2, err := db.VisitedLinks.AddVisitedLink(ctx, linkID, "https://site-b.test/", "https://frame-a.test/", 1)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	// The same link clicked in a different top-level context is a
	// different row.
	row, err := db.VisitedLinks.GetRowForVisitedLink(ctx, linkID, "https://site-a.test/", "https://frame-a.test/")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, id1, row.ID)
	assert.Equal(t, 1, row.VisitCount)

	missing, err := db.VisitedLinks.GetRowForVisitedLink(ctx, linkID, "https://site-c.test/", "https://frame-a.test/")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateVisitedLinkRowVisitCount(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	linkID := addTestURL(t, db, "https://linked.test/")
	id, err := db.VisitedLinks.AddVisitedLink(ctx, linkID, "https://site.test/", "https://site.test/", 1)
	require.NoError(t, err)

	updated, err := db.VisitedLinks.UpdateVisitedLinkRowVisitCount(ctx, id, 4)
	require.NoError(t, err)
	assert.True(t, updated)

	row, err := db.VisitedLinks.GetRowForVisitedLink(ctx, linkID, "https://site.test/", "https://site.test/")
	require.NoError(t, err)
	assert.Equal(t, 4, row.VisitCount)

	updated, err = db.VisitedLinks.UpdateVisitedLinkRowVisitCount(ctx, 9999, 1)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestDeleteVisitedLinksForURL(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	linkID := addTestURL(t, db, "https://linked.test/")
	otherID := addTestURL(t, db, "https://other.test/")
	_, err := db.VisitedLinks.AddVisitedLink(ctx, linkID, "https://a.test/", "https://a.test/", 1)
	require.NoError(t, err)
	_, err = db.VisitedLinks.AddVisitedLink(ctx, linkID, "https://b.test/", "https://b.test/", 2)
	require.NoError(t, err)
	_, err = db.VisitedLinks.AddVisitedLink(ctx, otherID, "https://a.test/", "https://a.test/", 1)
	require.NoError(t, err)

	require.NoError(t, db.VisitedLinks.DeleteVisitedLinksForURL(ctx, linkID))

	gone, err := db.VisitedLinks.GetRowForVisitedLink(ctx, linkID, "https://a.test/", "https://a.test/")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := db.VisitedLinks.GetRowForVisitedLink(ctx, otherID, "https://a.test/", "https://a.test/")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
