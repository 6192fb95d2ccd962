package config

import (
	"fmt"
	"raafstore/internal/core/mode"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

func validate(cfg *Config) error {
	validators := []func(*Config) error{
		validateVersion,
		validateDatabase,
		validatePersistence,
		validateJournal,
		validateBackfill,
		validateScan,
		validateWatch,
		validateObservability,
	}
	for _, v := range validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	if strings.TrimSpace(cfg.DB.Path) == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	if cfg.DB.BusyTimeout < 0 {
		return fmt.Errorf("db.busy_timeout must not be negative")
	}
	return nil
}

func validatePersistence(cfg *Config) error {
	if _, err := mode.ParseMode(cfg.Persistence.Mode); err != nil {
		return fmt.Errorf("persistence.mode: %w", err)
	}
	return nil
}

func validateJournal(cfg *Config) error {
	if cfg.Journal.IsEnabled() && strings.TrimSpace(cfg.Journal.Path) == "" {
		return fmt.Errorf("journal.path must not be empty when the journal is enabled")
	}
	return nil
}

func validateBackfill(cfg *Config) error {
	if cfg.Backfill.MaxWritesPerSecond < 0 {
		return fmt.Errorf("backfill.max_writes_per_second must be >= 0, got %v", cfg.Backfill.MaxWritesPerSecond)
	}
	return nil
}

func validateScan(cfg *Config) error {
	for i, pattern := range cfg.Scan.Exclude {
		p := strings.TrimSpace(pattern)
		if p == "" {
			return fmt.Errorf("scan.exclude[%d] must not be empty", i)
		}
		if _, err := glob.Compile(p, '/'); err != nil {
			return fmt.Errorf("scan.exclude[%d] %q is not a valid glob: %w", i, p, err)
		}
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 10*time.Millisecond {
		return fmt.Errorf("watch.debounce must be at least 10ms, got %s", cfg.Watch.Debounce)
	}
	return nil
}

func validateObservability(cfg *Config) error {
	if !cfg.Observability.Enabled {
		return nil
	}
	if cfg.Observability.Port < 1 || cfg.Observability.Port > 65535 {
		return fmt.Errorf("observability.port must be between 1 and 65535, got %d", cfg.Observability.Port)
	}
	return nil
}
