package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvedPaths holds absolute, cleaned locations derived from Config.
type ResolvedPaths struct {
	ProjectRoot string
	TreeRoot    string
	StateDir    string
	DatabaseDir string
	DBPath      string
	JournalPath string
	LockFile    string
}

func ResolvePaths(cfg *Config, cwd string) (ResolvedPaths, error) {
	if strings.TrimSpace(cwd) == "" {
		return ResolvedPaths{}, fmt.Errorf("cwd must not be empty")
	}

	projectRoot := strings.TrimSpace(cfg.Paths.ProjectRoot)
	if projectRoot != "" {
		projectRoot = ResolveRelative(cwd, projectRoot)
	} else {
		root, err := DetectProjectRoot([]string{cwd})
		if err != nil {
			return ResolvedPaths{}, err
		}
		projectRoot = root
	}

	treeRoot := ResolveRelative(projectRoot, cfg.Paths.TreeRoot)
	stateDir := ResolveRelative(projectRoot, cfg.Paths.StateDir)
	databaseDir := ResolveRelative(projectRoot, cfg.Paths.DatabaseDir)

	resolved := ResolvedPaths{
		ProjectRoot: filepath.Clean(projectRoot),
		TreeRoot:    treeRoot,
		StateDir:    stateDir,
		DatabaseDir: databaseDir,
		DBPath:      ResolveRelative(databaseDir, cfg.DB.Path),
		LockFile:    ResolveRelative(stateDir, cfg.Backfill.LockFile),
	}
	if cfg.Journal.IsEnabled() {
		resolved.JournalPath = ResolveRelative(stateDir, cfg.Journal.Path)
	}
	return resolved, nil
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}

// DetectProjectRoot walks up from each candidate looking for a raafstore marker and
// falls back to the working directory.
func DetectProjectRoot(candidates []string) (string, error) {
	markers := []string{
		"raafstore.toml",
		"data/config/raafstore.toml",
		".git",
	}

	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			continue
		}

		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		root := abs
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			root = filepath.Dir(abs)
		}

		for {
			for _, marker := range markers {
				if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
					return filepath.Clean(root), nil
				}
			}
			parent := filepath.Dir(root)
			if parent == root {
				break
			}
			root = parent
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Clean(cwd), nil
}

// FindConfigFile returns the first raafstore.toml found under the usual locations of
// projectRoot, or "" when there is none.
func FindConfigFile(projectRoot string) string {
	for _, rel := range []string{"raafstore.toml", "data/config/raafstore.toml"} {
		p := filepath.Join(projectRoot, rel)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
