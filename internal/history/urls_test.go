package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- CRUD ---

func TestAddURL_RoundTrip(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	lastVisit := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	in := &URLRow{
		URL:        "https://example.com/page",
		Title:      "Example Page",
		VisitCount: 2,
		TypedCount: 1,
		LastVisit:  lastVisit,
	}
	id, err := db.URLs.AddURL(ctx, in)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, id, in.ID)

	out, err := db.URLs.GetURLRow(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.URL, out.URL)
	assert.Equal(t, in.Title, out.Title)
	assert.Equal(t, 2, out.VisitCount)
	assert.Equal(t, 1, out.TypedCount)
	assert.True(t, out.LastVisit.Equal(lastVisit))
	assert.False(t, out.Hidden)
}

func TestAddURL_DuplicateReturnsZero(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	addTestURL(t, db, "https://dup.test/")
	id, err := db.URLs.AddURL(ctx, &URLRow{URL: "https://dup.test/"})
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestGetRowForURL_AbsentIsNil(t *testing.T) {
	db := openTestDatabase(t)

	row, err := db.URLs.GetRowForURL(context.Background(), "https://nowhere.test/")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestUpdateURLRow(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	id := addTestURL(t, db, "https://update.test/")
	err := db.URLs.UpdateURLRow(ctx, &URLRow{
		ID: id, URL: "https://update.test/", Title: "Updated",
		VisitCount: 5, TypedCount: 2, Hidden: true,
	})
	require.NoError(t, err)

	row, err := db.URLs.GetURLRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Updated", row.Title)
	assert.Equal(t, 5, row.VisitCount)
	assert.True(t, row.Hidden)

	err = db.URLs.UpdateURLRow(ctx, &URLRow{ID: 9999, URL: "https://x.test/"})
	assert.Error(t, err)
}

func TestDeleteURLRow_DoesNotCascadeToVisits(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	id := addTestURL(t, db, "https://gone.test/")
	visitID := addTestVisit(t, db, id, time.Now())
	require.NoError(t, db.URLs.SetKeywordSearchTermForURL(ctx, id, 7, "gone"))

	require.NoError(t, db.URLs.DeleteURLRow(ctx, id))

	row, err := db.URLs.GetURLRow(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, row)

	term, err := db.URLs.GetKeywordSearchTermRow(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, term)

	// The visit survives; expiry of visits is the owner's job.
	visit, err := db.Visits.GetRowForVisit(ctx, visitID)
	require.NoError(t, err)
	assert.NotNil(t, visit)
}

// --- temporary table swap ---

func TestTemporaryURLTableSwap(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	addTestURL(t, db, "https://victim.test/")
	survivor := &URLRow{URL: "https://survivor.test/", TypedCount: 3}
	_, err := db.URLs.AddURL(ctx, survivor)
	require.NoError(t, err)

	require.NoError(t, db.URLs.CreateTemporaryURLTable(ctx))
	newID, err := db.URLs.AddTemporaryURL(ctx, survivor)
	require.NoError(t, err)
	require.NotZero(t, newID)
	require.NoError(t, db.URLs.CommitTemporaryURLTable(ctx))

	row, err := db.URLs.GetRowForURL(ctx, "https://survivor.test/")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, newID, row.ID)

	victim, err := db.URLs.GetRowForURL(ctx, "https://victim.test/")
	require.NoError(t, err)
	assert.Nil(t, victim)

	// The unique index is back after the swap.
	dup, err := db.URLs.AddURL(ctx, &URLRow{URL: "https://survivor.test/"})
	require.NoError(t, err)
	assert.Zero(t, dup)
}

// --- autocomplete ---

func TestAutocompleteForPrefix(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	rows := []URLRow{
		{URL: "https://go.dev/doc", TypedCount: 5, VisitCount: 10},
		{URL: "https://go.dev/blog", TypedCount: 5, VisitCount: 3},
		{URL: "https://go.dev/play", TypedCount: 0, VisitCount: 50},
		{URL: "https://go.dev/hidden", TypedCount: 9, Hidden: true},
		{URL: "https://other.test/", TypedCount: 9},
	}
	for i := range rows {
		_, err := db.URLs.AddURL(ctx, &rows[i])
		require.NoError(t, err)
	}

	got, err := db.URLs.AutocompleteForPrefix(ctx, "https://go.dev/", 0, false)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "https://go.dev/doc", got[0].URL)
	assert.Equal(t, "https://go.dev/blog", got[1].URL)
	assert.Equal(t, "https://go.dev/play", got[2].URL)

	typed, err := db.URLs.AutocompleteForPrefix(ctx, "https://go.dev/", 0, true)
	require.NoError(t, err)
	assert.Len(t, typed, 2)

	capped, err := db.URLs.AutocompleteForPrefix(ctx, "https://go.dev/", 1, false)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}

func TestPrefixSearchUpperBound(t *testing.T) {
	assert.Equal(t, "https://go.dev0", prefixSearchUpperBound("https://go.dev/"))
	assert.Equal(t, "b", prefixSearchUpperBound("a"))
	assert.Equal(t, "b", prefixSearchUpperBound("a\xff"))
	// No string is greater than every string prefixed by 0xff bytes; the
	// empty bound means unbounded above.
	assert.Equal(t, "", prefixSearchUpperBound("\xff"))
	assert.Equal(t, "", prefixSearchUpperBound("\xff\xff"))
}

func TestAutocompleteForPrefix_MaxBytePrefix(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	_, err := db.URLs.AddURL(ctx, &URLRow{URL: "\xff\xffmarker", TypedCount: 1})
	require.NoError(t, err)
	_, err = db.URLs.AddURL(ctx, &URLRow{URL: "https://low.test/", TypedCount: 1})
	require.NoError(t, err)

	got, err := db.URLs.AutocompleteForPrefix(ctx, "\xff", 0, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "\xff\xffmarker", got[0].URL)
}

// --- text matching ---

func TestGetTextMatches(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	_, err := db.URLs.AddURL(ctx, &URLRow{URL: "https://golang.test/spec", Title: "Language Specification"})
	require.NoError(t, err)
	_, err = db.URLs.AddURL(ctx, &URLRow{URL: "https://rust.test/book", Title: "The Book"})
	require.NoError(t, err)

	got, err := db.URLs.GetTextMatches(ctx, "language SPEC", FoldingTextMatcher{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://golang.test/spec", got[0].URL)

	none, err := db.URLs.GetTextMatches(ctx, "language book", FoldingTextMatcher{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- keyword search terms ---

func TestKeywordSearchTerms(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	id := addTestURL(t, db, "https://search.test/?q=go+history")
	require.NoError(t, db.URLs.SetKeywordSearchTermForURL(ctx, id, 3, "  Go   History "))

	term, err := db.URLs.GetKeywordSearchTermRow(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, int64(3), term.KeywordID)
	assert.Equal(t, "  Go   History ", term.Term)
	assert.Equal(t, "go history", term.NormalizedTerm)

	// Setting again replaces, never accumulates.
	require.NoError(t, db.URLs.SetKeywordSearchTermForURL(ctx, id, 3, "golang"))
	term, err = db.URLs.GetKeywordSearchTermRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "golang", term.Term)

	require.NoError(t, db.URLs.DeleteAllSearchTermsForKeyword(ctx, 3))
	term, err = db.URLs.GetKeywordSearchTermRow(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, term)
}

func TestGetMostRecentKeywordSearchTerms(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	old := &URLRow{URL: "https://s.test/?q=go+mod", LastVisit: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	recent := &URLRow{URL: "https://s.test/?q=go+fmt", LastVisit: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	other := &URLRow{URL: "https://s.test/?q=rust", LastVisit: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	for _, r := range []*URLRow{old, recent, other} {
		_, err := db.URLs.AddURL(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, db.URLs.SetKeywordSearchTermForURL(ctx, old.ID, 3, "go mod"))
	require.NoError(t, db.URLs.SetKeywordSearchTermForURL(ctx, recent.ID, 3, "go fmt"))
	require.NoError(t, db.URLs.SetKeywordSearchTermForURL(ctx, other.ID, 3, "rust"))

	got, err := db.URLs.GetMostRecentKeywordSearchTerms(ctx, 3, "go", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "go fmt", got[0].Term)
	assert.Equal(t, "go mod", got[1].Term)

	capped, err := db.URLs.GetMostRecentKeywordSearchTerms(ctx, 3, "", 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "rust", capped[0].Term)
}
