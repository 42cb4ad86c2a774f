package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ferrybox/historydb/internal/history"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	// Confirmation prompt unless --force
	if !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete ALL browsing history.")
		fmt.Println("  - All visits and redirect chains")
		fmt.Println("  - All annotations and clusters")
		fmt.Println("  - All visited-link partitions and search terms")
		fmt.Println()
		fmt.Println("Typed URLs are kept as autocomplete seeds with zeroed counters.")
		fmt.Println("This action cannot be undone.")
		fmt.Println()
		fmt.Print(`Type "PURGE" to confirm: `)

		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no input received")
		}
		input := strings.TrimSpace(scanner.Text())
		if input != "PURGE" {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

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

	kept, err := purgeAll(ctx, db)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"purged":     true,
			"kept_typed": kept,
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	fmt.Printf("Purged all history. Kept %d typed URLs as autocomplete seeds.\n", kept)
	return nil
}

// purgeAll rewrites the URL table down to typed rows with zeroed visit
// counters, then drops and recreates every other table. Returns the number
// of URL rows kept.
func purgeAll(ctx context.Context, db *history.Database) (int, error) {
	typed, err := db.URLs.AutocompleteForPrefix(ctx, "", 0, true)
	if err != nil {
		return 0, err
	}

	if err := db.BeginTransaction(ctx); err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = db.RollbackTransaction(ctx)
		}
	}()

	if err := db.URLs.CreateTemporaryURLTable(ctx); err != nil {
		return 0, err
	}
	for i := range typed {
		row := typed[i]
		row.VisitCount = 0
		row.LastVisit = time.Time{}
		if _, err := db.URLs.AddTemporaryURL(ctx, &row); err != nil {
			return 0, err
		}
	}
	if err := db.URLs.CommitTemporaryURLTable(ctx); err != nil {
		return 0, err
	}
	if err := db.CommitTransaction(ctx); err != nil {
		return 0, err
	}
	committed = true

	if err := db.RecreateAllTablesButURL(ctx); err != nil {
		return 0, err
	}
	return len(typed), nil
}
