package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ferrybox/historydb/internal/config"
	"github.com/ferrybox/historydb/internal/history"
)

// loadConfig resolves the effective configuration: an explicit --config
// path when given, otherwise the default path (created with defaults when
// missing).
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.Load(globals.Config)
	}
	return config.LoadOrCreate()
}

// newLogger builds the slog logger the store components share. --verbose
// forces debug level.
func newLogger(cfg *config.Config, globals *GlobalFlags) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if globals != nil && globals.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openDatabase opens the configured history database, creating the parent
// directory when needed and applying the storage options from config.
func openDatabase(ctx context.Context, cfg *config.Config, globals *GlobalFlags) (*history.Database, error) {
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := history.Open(ctx, path, history.Options{
		JournalMode:        cfg.Storage.JournalMode,
		CacheSizePages:     cfg.Storage.CacheSizePages,
		EnableSyncMetadata: cfg.Storage.SyncMetadata,
		Logger:             newLogger(cfg, globals),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Storage.ExclusiveLocking {
		if err := db.EnableExclusiveLocking(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// dedupPolicy maps the flag/config spelling to a DuplicatePolicy.
func dedupPolicy(s string) (history.DuplicatePolicy, error) {
	switch s {
	case "", "keep-all":
		return history.KeepAllDuplicates, nil
	case "global":
		return history.RemoveDuplicatesGlobal, nil
	case "per-day":
		return history.RemoveDuplicatesPerDay, nil
	default:
		return 0, fmt.Errorf("invalid dedup policy: %q (use keep-all, global, or per-day)", s)
	}
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
