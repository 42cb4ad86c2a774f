package cli

import "github.com/ferrybox/historydb/internal/history"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand — show database health, schema version, and statistics.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// QueryCommand — list visible visits with time range, ordering, and
// duplicate handling.
type QueryCommand struct {
	Since string `long:"since" description:"Only visits newer than duration (e.g., 7d, 24h, 2w)" default:"30d"`
	Until string `long:"until" description:"Only visits older than duration"`
	URL   string `long:"url" description:"Restrict to one exact URL"`
	Limit int    `long:"limit" description:"Maximum results (0 uses the configured default)"`
	Order string `long:"order" description:"Sort order: recent | oldest" default:"recent"`
	Dedup string `long:"dedup" description:"Duplicate handling: keep-all | global | per-day"`

	globals *GlobalFlags
	version string
	db      *history.Database // injectable for testing; nil means open configured DB
}

// ExpireCommand — delete visits past the retention window and clean up the
// per-URL aggregates they fed.
type ExpireCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	Sensitive bool   `long:"sensitive" description:"Also delete all visits to sensitive hosts regardless of age"`
	DryRun    bool   `long:"dry-run" description:"Show what would be deleted without deleting"`

	globals *GlobalFlags
	version string
	db      *history.Database // injectable for testing; nil means open configured DB
}

// PurgeCommand — delete all history with safety confirmation. Typed URLs
// survive as autocomplete seeds with their counters zeroed.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	db      *history.Database // injectable for testing; nil means open configured DB
}

// VacuumCommand — rebuild the database file to reclaim space.
type VacuumCommand struct {
	globals *GlobalFlags
	version string
	db      *history.Database // injectable for testing; nil means open configured DB
}
