package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:             "~/.local/share/historydb",
			HistoryFile:      "History",
			JournalMode:      "wal",
			CacheSizePages:   10000,
			ExclusiveLocking: false,
			SyncMetadata:     false,
		},
		Expiry: ExpiryConfig{
			RetentionDays:  90,
			SensitiveHosts: []string{},
		},
		Query: QueryConfig{
			DefaultLimit: 100,
			Dedup:        "keep-all",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
