package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: RAAF_[SECTION]_[KEY] (e.g., RAAF_PERSISTENCE_MODE).
func ApplyEnvOverrides(cfg *Config) {
	// Paths
	setEnvString(&cfg.Paths.ProjectRoot, "RAAF_PATHS_PROJECT_ROOT")
	setEnvString(&cfg.Paths.TreeRoot, "RAAF_PATHS_TREE_ROOT")
	setEnvString(&cfg.Paths.StateDir, "RAAF_PATHS_STATE_DIR")
	setEnvString(&cfg.Paths.DatabaseDir, "RAAF_PATHS_DATABASE_DIR")

	// Database
	setEnvString(&cfg.DB.Path, "RAAF_DB_PATH")
	setEnvDuration(&cfg.DB.BusyTimeout, "RAAF_DB_BUSY_TIMEOUT")

	setEnvString(&cfg.Persistence.Mode, "RAAF_PERSISTENCE_MODE")

	// Journal
	setEnvBoolPtr(&cfg.Journal.Enabled, "RAAF_JOURNAL_ENABLED")
	setEnvString(&cfg.Journal.Path, "RAAF_JOURNAL_PATH")

	// Backfill
	setEnvFloat64(&cfg.Backfill.MaxWritesPerSecond, "RAAF_BACKFILL_MAX_WRITES_PER_SECOND")
	setEnvString(&cfg.Backfill.LockFile, "RAAF_BACKFILL_LOCK_FILE")

	setEnvList(&cfg.Scan.Exclude, "RAAF_SCAN_EXCLUDE")
	setEnvDuration(&cfg.Watch.Debounce, "RAAF_WATCH_DEBOUNCE")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "RAAF_OBSERVABILITY_ENABLED")
	setEnvInt(&cfg.Observability.Port, "RAAF_OBSERVABILITY_PORT")
	setEnvString(&cfg.Observability.OTLPEndpoint, "RAAF_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "RAAF_OBSERVABILITY_ENABLE_TRACING")
	setEnvBool(&cfg.Observability.EnableMetrics, "RAAF_OBSERVABILITY_ENABLE_METRICS")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvList(target *[]string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		items := make([]string, 0)
		for _, part := range strings.Split(val, ",") {
			if p := strings.TrimSpace(part); p != "" {
				items = append(items, p)
			}
		}
		*target = items
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvBoolPtr(target **bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = &b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
