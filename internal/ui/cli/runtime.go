// Package cli implements the raafstore command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	coreapp "raafstore/internal/core/app"
	"raafstore/internal/core/backfill"
	"raafstore/internal/core/config"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/mode"
	"raafstore/internal/core/ports"
	"raafstore/internal/data/store"
	"raafstore/internal/shared/observability"
	"raafstore/internal/ui/report"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			return exitFailure
		}
		fmt.Fprintln(stderr, err)
		fmt.Fprint(stderr, usageText)
		return exitUsage
	}

	switch opts.command {
	case "version":
		fmt.Fprintf(stdout, "raafstore v%s\n", versionString)
		return exitOK
	case "help":
		fmt.Fprint(stdout, usageText)
		return exitOK
	}

	format, err := report.ParseFormat(opts.format)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	configureLogging(opts.verbose, stderr)

	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("failed to detect working directory", "error", err)
		return exitFailure
	}

	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitFailure
	}

	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		slog.Error("failed to resolve runtime paths", "error", err)
		return exitFailure
	}
	slog.Debug("configuration loaded", "config", cfgPath, "project_root", paths.ProjectRoot, "tree_root", paths.TreeRoot)

	shutdownTracing := setupTracing(ctx, cfg)
	defer shutdownTracing()

	a, err := coreapp.New(cfg, paths)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return exitFailure
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close cleanly", "error", err)
		}
	}()

	switch opts.command {
	case "backfill":
		return runBackfill(ctx, a, opts, format, stdout, stderr)
	case "watch":
		return runWatch(ctx, a, stderr)
	case "get":
		return runGet(ctx, a, opts, format, stdout, stderr)
	case "search":
		return runSearch(ctx, a, opts, format, stdout, stderr)
	case "dashboard":
		return runDashboard(ctx, a, opts, format, stdout, stderr)
	}
	return exitUsage
}

func runBackfill(ctx context.Context, a *coreapp.App, opts cliOptions, format report.Format, stdout, stderr io.Writer) int {
	runMode := backfill.ModeNormal
	switch {
	case opts.dryRun:
		runMode = backfill.ModeDryRun
	case opts.verifyOnly:
		runMode = backfill.ModeVerify
	}
	scope := ports.Scope{ClientCode: strings.TrimSpace(opts.client), ReqID: strings.TrimSpace(opts.req)}

	rep, err := a.RunBackfill(ctx, backfill.Options{Mode: runMode, Scope: scope})
	if rep != nil {
		if renderErr := report.Backfill(stdout, rep, format); renderErr != nil {
			slog.Error("failed to render report", "error", renderErr)
			return exitFailure
		}
		if opts.out != "" {
			writeErr := report.WriteFile(opts.out, func(w io.Writer) error {
				return report.Backfill(w, rep, report.FormatJSON)
			})
			if writeErr != nil {
				slog.Error("failed to write report file", "path", opts.out, "error", writeErr)
				return exitFailure
			}
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "backfill failed: %v\n", err)
		return exitFailure
	}
	if err := rep.Err(); err != nil {
		fmt.Fprintf(stderr, "backfill %s: %v\n", report.Verdict(rep), err)
		return exitFailure
	}
	return exitOK
}

// runWatch reconciles the whole tree once, then keeps reconciling changed scopes until
// the process is interrupted.
func runWatch(ctx context.Context, a *coreapp.App, stderr io.Writer) int {
	if a.Mode == mode.DB {
		fmt.Fprintf(stderr, "watch is not available: %v\n", backfill.ErrStoreAuthoritative)
		return exitFailure
	}
	if a.Config.Observability.Enabled {
		addr := ":" + strconv.Itoa(a.Config.Observability.Port)
		server := NewObservabilityServer(addr, coreapp.NewHealthService(a))
		if err := server.Start(ctx); err != nil {
			slog.Error("failed to start observability server", "addr", addr, "error", err)
			return exitFailure
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(shutdownCtx)
		}()
	}

	rep, err := a.RunBackfill(ctx, backfill.Options{Mode: backfill.ModeNormal})
	if err != nil {
		fmt.Fprintf(stderr, "initial backfill failed: %v\n", err)
		return exitFailure
	}
	if err := rep.Err(); err != nil {
		slog.Warn("initial backfill finished with failures", "failures", len(rep.Failures), "error", err)
	}

	if err := a.StartWatcher(ctx, nil); err != nil {
		slog.Error("failed to start watcher", "error", err)
		return exitFailure
	}
	slog.Info("watching file tree", "root", a.Files.Root(), "mode", a.Mode)

	<-ctx.Done()
	slog.Info("watch stopped")
	return exitOK
}

func runGet(ctx context.Context, a *coreapp.App, opts cliOptions, format report.Format, stdout, stderr io.Writer) int {
	kind, err := entity.ParseKind(opts.args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	key, err := entity.ParseKey(kind, opts.args[1])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	res, err := a.Get(ctx, key)
	if err != nil {
		fmt.Fprintf(stderr, "get %s: %v\n", key, err)
		return exitFailure
	}
	if err := report.Entity(stdout, res, format); err != nil {
		slog.Error("failed to render entity", "error", err)
		return exitFailure
	}
	if !res.Found {
		return exitFailure
	}
	return exitOK
}

func runSearch(ctx context.Context, a *coreapp.App, opts cliOptions, format report.Format, stdout, stderr io.Writer) int {
	q := store.SearchQuery{
		ClientCode:     strings.TrimSpace(opts.client),
		ReqID:          strings.TrimSpace(opts.req),
		Status:         entity.CandidateStatus(strings.TrimSpace(opts.status)),
		Recommendation: entity.Recommendation(strings.TrimSpace(opts.recommendation)),
		MinPercentage:  opts.minScore,
		Text:           strings.TrimSpace(strings.Join(opts.args, " ")),
		Limit:          opts.limit,
	}
	rows, err := a.Search(ctx, q, opts.narrative)
	if err != nil {
		fmt.Fprintf(stderr, "search failed: %v\n", err)
		return exitFailure
	}
	if err := report.Search(stdout, rows, format); err != nil {
		slog.Error("failed to render search results", "error", err)
		return exitFailure
	}
	return exitOK
}

func runDashboard(ctx context.Context, a *coreapp.App, opts cliOptions, format report.Format, stdout, stderr io.Writer) int {
	rows, err := a.Dashboard(ctx, strings.TrimSpace(opts.client))
	if err != nil {
		fmt.Fprintf(stderr, "dashboard failed: %v\n", err)
		return exitFailure
	}
	if err := report.Dashboard(stdout, rows, format); err != nil {
		slog.Error("failed to render dashboard", "error", err)
		return exitFailure
	}
	return exitOK
}

// loadConfig loads an explicit config path, or discovers raafstore.toml above cwd and
// falls back to defaults. Relative paths in a discovered or explicit file resolve from
// the project that file belongs to.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, "", err
		}
	} else {
		root, err := config.DetectProjectRoot([]string{cwd})
		if err != nil {
			return nil, "", err
		}
		path = config.FindConfigFile(root)
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	if path != "" && strings.TrimSpace(cfg.Paths.ProjectRoot) == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, "", err
		}
		root, err := config.DetectProjectRoot([]string{filepath.Dir(abs)})
		if err != nil {
			return nil, "", err
		}
		cfg.Paths.ProjectRoot = root
	}
	return cfg, path, nil
}

func setupTracing(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Observability.EnableTracing {
		return func() {}
	}
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "raafstore",
		Version:     versionString,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}
}

// configureLogging installs the process-wide slog handler. Logs go to w so reports on
// stdout stay machine readable.
func configureLogging(verbose bool, w io.Writer) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}
