package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrybox/historydb/internal/history"
)

func TestExpireDeletesOldVisits(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	// mixed.test has one old and one recent visit; stale.test only old.
	seedVisit(t, db, "https://mixed.test/", time.Now().AddDate(0, 0, -30))
	seedVisit(t, db, "https://mixed.test/", time.Now().Add(-time.Hour))
	seedVisit(t, db, "https://stale.test/", time.Now().AddDate(0, 0, -30))

	cmd := &ExpireCommand{
		OlderThan: "7d",
		globals:   testGlobals(t),
		db:        db,
	}
	out := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, out, "Deleted 2 visits")

	// stale.test is gone entirely.
	row, err := db.URLs.GetRowForURL(ctx, "https://stale.test/")
	require.NoError(t, err)
	assert.Nil(t, row)

	// mixed.test survives with recomputed aggregates.
	row, err = db.URLs.GetRowForURL(ctx, "https://mixed.test/")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 1, row.VisitCount)

	visits, _, err := db.Visits.GetAllVisitsInRange(ctx, history.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, visits, 1)
}

func TestExpireDryRunDeletesNothing(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	seedVisit(t, db, "https://stale.test/", time.Now().AddDate(0, 0, -30))

	cmd := &ExpireCommand{
		OlderThan: "7d",
		DryRun:    true,
		globals:   testGlobals(t),
		db:        db,
	}
	out := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, out, "Would delete 1 visits")

	visits, _, err := db.Visits.GetAllVisitsInRange(ctx, history.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, visits, 1)
}

func TestExpireCascadesDerivedData(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	seedVisit(t, db, "https://stale.test/", time.Now().AddDate(0, 0, -30))
	visits, _, err := db.Visits.GetAllVisitsInRange(ctx, history.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, visits, 1)
	visitID := visits[0].ID
	urlID := visits[0].URLID

	require.NoError(t, db.Annotations.AddContentAnnotationsForVisit(ctx, visitID, &history.ContentAnnotations{PageLanguage: "en"}))
	_, err = db.VisitedLinks.AddVisitedLink(ctx, urlID, "https://top.test/", "https://top.test/", 1)
	require.NoError(t, err)

	cmd := &ExpireCommand{OlderThan: "7d", globals: testGlobals(t), db: db}
	captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	ann, err := db.Annotations.GetContentAnnotationsForVisit(ctx, visitID)
	require.NoError(t, err)
	assert.Nil(t, ann)

	link, err := db.VisitedLinks.GetRowForVisitedLink(ctx, urlID, "https://top.test/", "https://top.test/")
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestExpireSensitiveHosts(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	// Both visits are recent; only the sensitive host should go.
	seedVisit(t, db, "https://online.bank.test/account", time.Now().Add(-time.Hour))
	seedVisit(t, db, "https://news.test/today", time.Now().Add(-time.Hour))

	globals := testGlobals(t)
	cmd := &ExpireCommand{
		OlderThan: "365d",
		Sensitive: true,
		globals:   globals,
		db:        db,
	}

	// The temp config has no sensitive hosts; inject one.
	cfgYAML := "storage:\n  path: " + t.TempDir() + "\nexpiry:\n  sensitive_hosts:\n    - bank.test\n"
	writeConfig(t, globals, cfgYAML)

	captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	row, err := db.URLs.GetRowForURL(ctx, "https://online.bank.test/account")
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = db.URLs.GetRowForURL(ctx, "https://news.test/today")
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestHostIsSensitive(t *testing.T) {
	hosts := []string{"bank.test", "login.gov"}
	assert.True(t, hostIsSensitive("https://bank.test/x", hosts))
	assert.True(t, hostIsSensitive("https://online.bank.test/x", hosts))
	assert.False(t, hostIsSensitive("https://notbank.test/x", hosts))
	assert.False(t, hostIsSensitive("https://bank.test.evil/x", hosts))
}
