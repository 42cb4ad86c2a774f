package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVacuumCommand(t *testing.T) {
	db := openTestDatabase(t)
	seedVisit(t, db, "https://example.com/a", time.Now().Add(-time.Hour))

	cmd := &VacuumCommand{globals: &GlobalFlags{}, db: db}
	out := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, out, "Vacuumed:")
}

func TestVacuumCommandJSON(t *testing.T) {
	db := openTestDatabase(t)

	cmd := &VacuumCommand{globals: &GlobalFlags{JSON: true}, db: db}
	out := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	var got map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Contains(t, got, "size_before_bytes")
	assert.Contains(t, got, "size_after_bytes")
}

func TestVacuumCommandFailsInsideTransaction(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()
	require.NoError(t, db.BeginTransaction(ctx))
	defer func() { _ = db.RollbackTransaction(ctx) }()

	cmd := &VacuumCommand{globals: &GlobalFlags{}, db: db}
	assert.Error(t, cmd.Execute(nil))
}
