package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"raafstore/internal/core/backfill"
	"raafstore/internal/core/mode"
	"raafstore/internal/core/watcher"
)

type watcherHandle interface {
	Close() error
}

// StartWatcher reconciles every debounced batch of tree changes with a scoped backfill
// pass until ctx is done or StopWatcher is called.
func (a *App) StartWatcher(ctx context.Context, onReport func(*backfill.Report, error)) error {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.activeWatcher != nil {
		return fmt.Errorf("watcher already running")
	}
	if err := a.requireStore("watch"); err != nil {
		return err
	}
	if a.Mode == mode.DB {
		return backfill.ErrStoreAuthoritative
	}

	rec := watcher.NewReconciler(a.Files.Root(), a.Backfill, onReport)
	w, err := watcher.NewWatcher(a.Config.Watch.Debounce, a.Config.Scan.Exclude, func(paths []string) {
		rec.Reconcile(ctx, paths)
	})
	if err != nil {
		return err
	}
	if err := w.Watch([]string{watchRoot(a.Files.Root())}); err != nil {
		_ = w.Close()
		return err
	}
	a.activeWatcher = w
	return nil
}

// watchRoot narrows the watch to the clients/ subtree when it exists, keeping state
// files that may live under the tree root out of the event stream.
func watchRoot(root string) string {
	clients := filepath.Join(root, "clients")
	if info, err := os.Stat(clients); err == nil && info.IsDir() {
		return clients
	}
	return root
}

func (a *App) StopWatcher() {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.activeWatcher != nil {
		_ = a.activeWatcher.Close()
		a.activeWatcher = nil
	}
}
