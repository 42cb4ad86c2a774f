package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ferrybox/historydb/internal/history"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string          `json:"version"`
	DatabasePath      string          `json:"database_path"`
	DatabaseSizeBytes int64           `json:"database_size_bytes"`
	SchemaVersion     int             `json:"schema_version"`
	URLCount          int64           `json:"url_count"`
	VisitCount        int64           `json:"visit_count"`
	OldestVisit       string          `json:"oldest_visit,omitempty"`
	NewestVisit       string          `json:"newest_visit,omitempty"`
	TopHosts          []hostCountJSON `json:"top_hosts"`
}

type hostCountJSON struct {
	Host  string `json:"host"`
	Count int64  `json:"count"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	ctx := context.Background()
	db, err := openDatabase(ctx, cfg, c.globals)
	if err != nil {
		return err
	}
	defer db.Close()

	return c.executeWithDatabase(ctx, db)
}

// executeWithDatabase runs status against a provided database (for testing).
func (c *StatusCommand) executeWithDatabase(ctx context.Context, db *history.Database) error {
	stats, err := db.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	dbSize := databaseSize(db.Path())

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(stats, db.Path(), dbSize)
	}
	return c.printStatusHuman(stats, db.Path(), dbSize)
}

func (c *StatusCommand) printStatusHuman(stats *history.Stats, dbPath string, dbSize int64) error {
	fmt.Println("History Database Status")
	fmt.Println("=======================")
	fmt.Printf("Version:        %s\n", c.version)
	fmt.Printf("Database:       %s (%s)\n", dbPath, formatBytes(dbSize))
	fmt.Printf("Schema version: %d\n", stats.SchemaVersion)
	fmt.Printf("URLs:           %s\n", formatNumber(stats.URLCount))
	fmt.Printf("Visits:         %s\n", formatNumber(stats.VisitCount))

	if stats.VisitCount > 0 {
		fmt.Printf("Oldest:         %s\n", stats.OldestVisit.Local().Format("2006-01-02"))
		fmt.Printf("Newest:         %s\n", stats.NewestVisit.Local().Format("2006-01-02"))
	}

	if len(stats.TopHosts) > 0 {
		fmt.Println()
		fmt.Println("Top Hosts:")
		for _, h := range stats.TopHosts {
			fmt.Printf("  %-24s %s\n", h.Host, formatNumber(h.Count))
		}
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(stats *history.Stats, dbPath string, dbSize int64) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: dbSize,
		SchemaVersion:     stats.SchemaVersion,
		URLCount:          stats.URLCount,
		VisitCount:        stats.VisitCount,
		TopHosts:          make([]hostCountJSON, len(stats.TopHosts)),
	}

	if stats.VisitCount > 0 {
		out.OldestVisit = stats.OldestVisit.UTC().Format(time.RFC3339)
		out.NewestVisit = stats.NewestVisit.UTC().Format(time.RFC3339)
	}

	for i, h := range stats.TopHosts {
		out.TopHosts[i] = hostCountJSON{Host: h.Host, Count: h.Count}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// databaseSize returns the database file size in bytes, or 0 for in-memory
// databases.
func databaseSize(path string) int64 {
	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	return 0
}
