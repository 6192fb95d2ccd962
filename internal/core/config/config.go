// Package config loads raafstore.toml and resolves the paths it names.
package config

import (
	"time"
)

type Config struct {
	Version       int           `toml:"version"`
	Paths         Paths         `toml:"paths"`
	DB            Database      `toml:"db"`
	Persistence   Persistence   `toml:"persistence"`
	Journal       Journal       `toml:"journal"`
	Backfill      Backfill      `toml:"backfill"`
	Scan          Scan          `toml:"scan"`
	Watch         Watch         `toml:"watch"`
	Observability Observability `toml:"observability"`
}

// Paths are resolved against ProjectRoot unless absolute.
type Paths struct {
	ProjectRoot string `toml:"project_root"`
	TreeRoot    string `toml:"tree_root"`
	StateDir    string `toml:"state_dir"`
	DatabaseDir string `toml:"database_dir"`
}

type Database struct {
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type Persistence struct {
	// Mode is files, dual or db. RAAF_PERSISTENCE_MODE wins over the file.
	Mode string `toml:"mode"`
}

type Journal struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

type Backfill struct {
	MaxWritesPerSecond float64 `toml:"max_writes_per_second"`
	LockFile           string  `toml:"lock_file"`
}

type Scan struct {
	Exclude []string `toml:"exclude"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

type Observability struct {
	Enabled       bool   `toml:"enabled"`
	Port          int    `toml:"port"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	EnableTracing bool   `toml:"enable_tracing"`
	EnableMetrics bool   `toml:"enable_metrics"`
}

// IsEnabled defaults to true when the journal block omits enabled.
func (j Journal) IsEnabled() bool {
	if j.Enabled == nil {
		return true
	}
	return *j.Enabled
}

// DefaultConfig is the configuration used when no raafstore.toml exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
