package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Execute implements the go-flags Commander interface for VacuumCommand.
func (c *VacuumCommand) Execute(args []string) error {
	ctx := context.Background()
	db := c.db
	if db == nil {
		cfg, err := loadConfig(c.globals)
		if err != nil {
			return err
		}
		db, err = openDatabase(ctx, cfg, c.globals)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	before := databaseSize(db.Path())
	if err := db.Vacuum(ctx); err != nil {
		return err
	}
	db.TrimMemory(ctx)
	after := databaseSize(db.Path())

	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"size_before_bytes": before,
			"size_after_bytes":  after,
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	fmt.Printf("Vacuumed: %s -> %s\n", formatBytes(before), formatBytes(after))
	return nil
}
