package watcher

import (
	"context"
	"log/slog"
	"raafstore/internal/core/backfill"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"time"
)

// Runner is the part of the backfill engine the reconciler drives.
type Runner interface {
	Run(ctx context.Context, opts backfill.Options) (*backfill.Report, error)
}

// Reconciler runs one normal backfill pass per scope touched by a change batch.
type Reconciler struct {
	root       string
	runner     Runner
	onReport   func(*backfill.Report, error)
	retryDelay time.Duration
	attempts   int
}

func NewReconciler(root string, runner Runner, onReport func(*backfill.Report, error)) *Reconciler {
	return &Reconciler{
		root:       root,
		runner:     runner,
		onReport:   onReport,
		retryDelay: time.Second,
		attempts:   5,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, paths []string) {
	for _, scope := range ScopesFor(r.root, paths) {
		if ctx.Err() != nil {
			return
		}
		report, err := r.runScope(ctx, scope)
		if r.onReport != nil {
			r.onReport(report, err)
		}
		switch {
		case err != nil:
			slog.Warn("incremental backfill failed", "scope", scope.String(), "error", err)
		case report.Err() != nil:
			slog.Warn("incremental backfill finished with failures", "scope", scope.String(), "failures", len(report.Failures))
		default:
			slog.Info("incremental backfill finished", "scope", scope.String(), "writes", report.Writes())
		}
	}
}

// runScope retries while another backfill holds the lock.
func (r *Reconciler) runScope(ctx context.Context, scope ports.Scope) (*backfill.Report, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		report, err := r.runner.Run(ctx, backfill.Options{Mode: backfill.ModeNormal, Scope: scope})
		if !errors.Is(err, backfill.ErrLocked) {
			return report, err
		}
		lastErr = err
		slog.Debug("backfill lock busy; retrying", "scope", scope.String(), "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}
	return nil, lastErr
}
