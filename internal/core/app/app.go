// Package app wires configuration, the file tree, the store and the coordinators into
// one runtime.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"raafstore/internal/core/backfill"
	"raafstore/internal/core/config"
	"raafstore/internal/core/dualwrite"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/mode"
	"raafstore/internal/core/ports"
	"raafstore/internal/data/filetree"
	"raafstore/internal/data/journal"
	"raafstore/internal/data/store"
	"raafstore/internal/shared/util"
	"sync"
	"time"
)

type App struct {
	Config     *config.Config
	Paths      config.ResolvedPaths
	Mode       mode.Mode
	Files      *filetree.Adapter
	Store      *store.Store
	Journal    ports.Journal
	Controller *mode.Controller
	Backfill   *backfill.Engine

	// storeErr is why Store is nil. Only files mode starts without a store.
	storeErr  error
	startedAt time.Time

	watchMu       sync.Mutex
	activeWatcher watcherHandle
	closeOnce     sync.Once
	closeErr      error
}

// New opens every resource the configured mode needs. The store is opened in every mode
// since backfill and verification use it, but in files mode a store that cannot be
// opened only disables those operations.
func New(cfg *config.Config, paths config.ResolvedPaths) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	m, err := mode.FromEnv(mode.Mode(cfg.Persistence.Mode))
	if err != nil {
		return nil, err
	}

	files, err := filetree.New(paths.TreeRoot, cfg.Scan.Exclude)
	if err != nil {
		return nil, err
	}

	st, storeErr := store.Open(paths.DBPath, store.WithBusyTimeout(cfg.DB.BusyTimeout))
	if storeErr != nil {
		if m.UsesStore() {
			return nil, storeErr
		}
		slog.Warn("store unavailable; serving files only, backfill and store reads are disabled",
			"db", paths.DBPath, "error", storeErr)
		st = nil
	}

	j, err := openJournal(paths.JournalPath)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Paths:     paths,
		Mode:      m,
		Files:     files,
		Store:     st,
		Journal:   j,
		storeErr:  storeErr,
		startedAt: time.Now().UTC(),
	}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}

	slog.Info("raafstore initialized",
		"mode", m,
		"tree_root", files.Root(),
		"db", paths.DBPath,
		"journal", paths.JournalPath)
	return a, nil
}

func openJournal(path string) (ports.Journal, error) {
	if path == "" {
		slog.Warn("reconciliation journal disabled; partial writes will not survive a restart")
		return journal.NewMemoryJournal(), nil
	}
	return journal.OpenSQLiteJournal(path)
}

// wire builds the controller and the backfill engine around one gate and one lock set.
func (a *App) wire() error {
	gate := &util.Gate{}
	locks := util.NewKeyedMutex()

	deps := mode.Deps{Files: a.Files, Gate: gate, Locks: locks}
	if a.Store == nil {
		ctrl, err := mode.NewController(a.Mode, deps)
		if err != nil {
			return err
		}
		a.Controller = ctrl
		return nil
	}

	deps.Store = a.Store
	if a.Mode == mode.Dual {
		dw, err := dualwrite.New(a.Files, a.Store, a.Journal, locks)
		if err != nil {
			return err
		}
		deps.Dual = dw
	}
	ctrl, err := mode.NewController(a.Mode, deps)
	if err != nil {
		return err
	}
	engine, err := backfill.New(a.Files, a.Store, a.Journal, gate, backfill.Config{
		LockFile:           a.Paths.LockFile,
		MaxWritesPerSecond: a.Config.Backfill.MaxWritesPerSecond,
		Mode:               a.Mode,
	})
	if err != nil {
		return err
	}
	a.Controller = ctrl
	a.Backfill = engine
	return nil
}

func (a *App) Execute(ctx context.Context, op mode.Operation) (mode.Result, error) {
	return a.Controller.Execute(ctx, op)
}

func (a *App) RunBackfill(ctx context.Context, opts backfill.Options) (*backfill.Report, error) {
	if err := a.requireStore("backfill"); err != nil {
		return nil, err
	}
	return a.Backfill.Run(ctx, opts)
}

// requireStore reports STORE_UNAVAILABLE for operations that need the store when files
// mode started without one.
func (a *App) requireStore(op string) error {
	if a.Store != nil {
		return nil
	}
	return errors.StoreUnavailable(op, a.storeErr)
}

// Close stops the watcher and releases the journal and the store. It is safe to call
// more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.StopWatcher()
		var errs []error
		if a.Journal != nil {
			if err := a.Journal.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close journal: %w", err))
			}
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		if len(errs) > 0 {
			a.closeErr = errs[0]
		}
	})
	return a.closeErr
}
