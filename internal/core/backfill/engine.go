// Package backfill derives store rows from the file tree and verifies that the two agree.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/mode"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/observability"
	"raafstore/internal/shared/util"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrLocked is returned when another process holds the backfill lock file.
var ErrLocked = errors.New(errors.CodeStoreUnavailable, "another backfill is running")

// ErrStoreAuthoritative is returned for passes that would write while the store is the
// system of record. Divergence found then is for the operator to resolve.
var ErrStoreAuthoritative = errors.New(errors.CodeNotSupported,
	"the store is the system of record in db mode; only verify-only passes may run")

type Options struct {
	Mode  RunMode
	Scope ports.Scope
}

type Config struct {
	// LockFile guards against a concurrent backfill in another process. Empty disables it.
	LockFile string
	// MaxWritesPerSecond throttles store upserts. Zero means unlimited.
	MaxWritesPerSecond float64
	// Mode is the persistence mode of the process. In db mode only verify-only runs.
	Mode mode.Mode
}

// Engine runs backfill passes. Live writers share Gate; a pass holds it exclusively.
type Engine struct {
	files   ports.FileAdapter
	store   ports.Store
	journal ports.Journal
	gate    *util.Gate
	limiter *util.Limiter
	lock    string
	mode    mode.Mode
	now     func() time.Time
}

func New(files ports.FileAdapter, store ports.Store, journal ports.Journal, gate *util.Gate, cfg Config) (*Engine, error) {
	if files == nil || store == nil {
		return nil, fmt.Errorf("backfill needs both a file adapter and a store")
	}
	if gate == nil {
		gate = &util.Gate{}
	}
	burst := int(cfg.MaxWritesPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Engine{
		files:   files,
		store:   store,
		journal: journal,
		gate:    gate,
		limiter: util.NewLimiter(cfg.MaxWritesPerSecond, burst),
		lock:    strings.TrimSpace(cfg.LockFile),
		mode:    cfg.Mode,
		now:     time.Now,
	}, nil
}

// Run executes one pass. The returned report is non-nil whenever the pass started,
// including on cancellation. Per-entity failures are collected in the report and do
// not make Run return an error; use Report.Err for the overall verdict.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Mode == "" {
		opts.Mode = ModeNormal
	}
	switch opts.Mode {
	case ModeNormal, ModeDryRun, ModeVerify:
	default:
		return nil, errors.New(errors.CodeValidationError, fmt.Sprintf("unknown backfill mode %q", opts.Mode))
	}
	if e.mode == mode.DB && opts.Mode != ModeVerify {
		return nil, ErrStoreAuthoritative
	}

	unlock, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	release := e.gate.Exclusive()
	defer release()

	runID := uuid.NewString()
	ctx, span := observability.Tracer.Start(ctx, "backfill.Run", trace.WithAttributes(
		attribute.String("raaf.run_id", runID),
		attribute.String("raaf.backfill_mode", string(opts.Mode)),
		attribute.String("raaf.scope", opts.Scope.String()),
	))
	defer span.End()

	started := e.now()
	report := newReport(runID, opts.Mode, opts.Scope.String(), started)
	log := slog.With("run_id", runID, "mode", opts.Mode, "scope", opts.Scope.String())
	log.Info("backfill started")

	err = e.run(ctx, opts, report, log)
	report.FinishedAt = e.now()
	report.sortFailures()
	e.refreshJournal(ctx, report)

	result := "ok"
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		report.Cancelled = true
		result = "cancelled"
	case err != nil:
		result = "error"
	case report.Err() != nil:
		result = "failed"
	}
	observability.BackfillRunsTotal.WithLabelValues(string(opts.Mode), result).Inc()
	observability.BackfillDuration.WithLabelValues(string(opts.Mode)).Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		log.Warn("backfill stopped", "result", result, "error", err)
		return report, err
	}
	log.Info("backfill finished",
		"result", result,
		"writes", report.Writes(),
		"failures", len(report.Failures),
		"duration", report.FinishedAt.Sub(started).String())
	return report, nil
}

func (e *Engine) run(ctx context.Context, opts Options, report *Report, log *slog.Logger) error {
	if opts.Mode == ModeVerify {
		return e.verify(ctx, opts.Scope, report, log)
	}

	inv, err := e.scan(ctx, opts.Scope, report, log)
	if err != nil {
		return err
	}
	if opts.Mode == ModeDryRun {
		return e.plan(ctx, inv, report, log)
	}
	return e.apply(ctx, inv, report, log)
}

// scan reads the file inventory and records per-file failures.
func (e *Engine) scan(ctx context.Context, scope ports.Scope, report *Report, log *slog.Logger) (*ports.FileInventory, error) {
	inv, err := e.scanFiles(ctx, scope)
	if err != nil {
		return nil, err
	}
	recordScan(inv, report, log)
	return inv, nil
}

func (e *Engine) scanFiles(ctx context.Context, scope ports.Scope) (*ports.FileInventory, error) {
	ctx, span := observability.Tracer.Start(ctx, "backfill.scan")
	defer span.End()
	inv, err := e.files.Scan(ctx, scope)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return inv, nil
}

func recordScan(inv *ports.FileInventory, report *Report, log *slog.Logger) {
	for _, kind := range entity.Kinds {
		report.stats(kind).Scanned = len(inv.Seen[kind])
	}
	for _, fe := range inv.Errors {
		log.Warn("skipping unreadable file", "path", fe.Path, "kind", fe.Kind, "key", fe.Key, "error", fe.Err)
		report.fail(fe.Kind, fe.Key, fe.Path, fe.Err)
		observability.BackfillUpsertsTotal.WithLabelValues(string(fe.Kind), "failed").Inc()
	}
}

// acquire takes the cross-process lock file.
func (e *Engine) acquire() (func(), error) {
	if e.lock == "" {
		return func() {}, nil
	}
	if dir := filepath.Dir(e.lock); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock directory %q: %w", dir, err)
		}
	}
	fl := flock.New(e.lock)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %q: %w", e.lock, err)
	}
	if !ok {
		return nil, errors.Wrap(ErrLocked, errors.CodeStoreUnavailable, fmt.Sprintf("lock %s is held", e.lock))
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("failed to release backfill lock", "path", e.lock, "error", err)
		}
	}, nil
}

func (e *Engine) refreshJournal(ctx context.Context, report *Report) {
	if e.journal == nil {
		return
	}
	n, err := e.journal.PendingCount(context.WithoutCancel(ctx))
	if err != nil {
		slog.Warn("failed to count journal entries", "error", err)
		return
	}
	report.JournalPending = n
}
