// Package mode routes entity operations to the file tree, the store or both.
package mode

import (
	"fmt"
	"os"
	"raafstore/internal/core/errors"
	"strings"
)

type Mode string

const (
	Files Mode = "files"
	Dual  Mode = "dual"
	DB    Mode = "db"
)

// EnvVar selects the persistence mode. It is read once at startup.
const EnvVar = "RAAF_PERSISTENCE_MODE"

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case Files:
		return Files, nil
	case Dual:
		return Dual, nil
	case DB:
		return DB, nil
	}
	return "", errors.New(errors.CodeValidationError, fmt.Sprintf("invalid persistence mode %q (want files, dual or db)", raw))
}

// FromEnv returns the mode named by EnvVar, falling back to fallback (and then to
// files) when the variable is unset or blank.
func FromEnv(fallback Mode) (Mode, error) {
	if raw, ok := os.LookupEnv(EnvVar); ok && strings.TrimSpace(raw) != "" {
		return ParseMode(raw)
	}
	if fallback == "" {
		return Files, nil
	}
	return ParseMode(string(fallback))
}

func (m Mode) UsesFiles() bool { return m == Files || m == Dual }
func (m Mode) UsesStore() bool { return m == DB || m == Dual }
