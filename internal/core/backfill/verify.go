package backfill

import (
	"context"
	"log/slog"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/observability"
	"sort"

	"golang.org/x/sync/errgroup"
)

type kindDiff struct {
	missingInStore []string
	missingInFiles []string
	drifted        []string
}

// diff compares file and store hashes for one kind. Keys whose file failed to parse
// carry an empty hash and are never reported as drifted.
func diff(files, store map[string]string) kindDiff {
	var d kindDiff
	for key, hash := range files {
		stored, ok := store[key]
		switch {
		case !ok:
			d.missingInStore = append(d.missingInStore, key)
		case hash != "" && stored != hash:
			d.drifted = append(d.drifted, key)
		}
	}
	for key := range store {
		if _, ok := files[key]; !ok {
			d.missingInFiles = append(d.missingInFiles, key)
		}
	}
	sort.Strings(d.missingInStore)
	sort.Strings(d.missingInFiles)
	sort.Strings(d.drifted)
	return d
}

// storeInventory loads the key hashes of every kind concurrently.
func (e *Engine) storeInventory(ctx context.Context, g *errgroup.Group, scope ports.Scope) []map[string]string {
	out := make([]map[string]string, len(entity.Kinds))
	for i, kind := range entity.Kinds {
		g.Go(func() error {
			hashes, err := e.store.KeyHashes(ctx, kind, scope)
			if err != nil {
				return err
			}
			out[i] = hashes
			return nil
		})
	}
	return out
}

// plan lists the writes a normal pass would make without performing them.
func (e *Engine) plan(ctx context.Context, inv *ports.FileInventory, report *Report, log *slog.Logger) error {
	ctx, span := observability.Tracer.Start(ctx, "backfill.plan")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	stored := e.storeInventory(gctx, g, inv.Scope)
	if err := g.Wait(); err != nil {
		return err
	}

	archive := sweepAllowed(inv, log)
	for i, kind := range entity.Kinds {
		files := inv.Seen[kind]
		d := diff(files, owned(kind, inv.Scope, files, stored[i]))
		stats := report.stats(kind)
		for _, key := range d.missingInStore {
			if files[key] == "" {
				continue
			}
			report.Plan = append(report.Plan, PlanItem{Kind: kind, Key: key, Action: PlanCreate})
			stats.Created++
		}
		for _, key := range d.drifted {
			report.Plan = append(report.Plan, PlanItem{Kind: kind, Key: key, Action: PlanUpdate})
			stats.Updated++
		}
		if archive {
			for _, key := range d.missingInFiles {
				report.Plan = append(report.Plan, PlanItem{Kind: kind, Key: key, Action: PlanArchive})
				stats.Archived++
			}
		}
		stats.Unchanged = len(files) - len(d.missingInStore) - len(d.drifted)
	}
	log.Info("dry run planned", "writes", len(report.Plan))
	return nil
}

// owned restricts store keys of kinds the scope does not own to those the files also
// have, so parents pulled in by a narrow scope are compared but never reported missing.
func owned(kind entity.Kind, scope ports.Scope, files, store map[string]string) map[string]string {
	if sweepable(kind, scope) {
		return store
	}
	out := make(map[string]string, len(files))
	for k := range files {
		if h, ok := store[k]; ok {
			out[k] = h
		}
	}
	return out
}

// verify compares key sets and hashes of every kind without writing anything.
func (e *Engine) verify(ctx context.Context, scope ports.Scope, report *Report, log *slog.Logger) error {
	ctx, span := observability.Tracer.Start(ctx, "backfill.verify")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	var inv *ports.FileInventory
	g.Go(func() error {
		var err error
		inv, err = e.scanFiles(gctx, scope)
		return err
	})
	stored := e.storeInventory(gctx, g, scope)
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return err
	}
	recordScan(inv, report, log)

	for i, kind := range entity.Kinds {
		files := inv.Seen[kind]
		inStore := owned(kind, scope, files, stored[i])
		d := diff(files, inStore)
		v := KindVerification{
			Kind:           kind,
			FileCount:      len(files),
			StoreCount:     len(inStore),
			MissingInStore: nonNil(d.missingInStore),
			MissingInFiles: nonNil(d.missingInFiles),
			Drifted:        nonNil(d.drifted),
		}
		report.Verification = append(report.Verification, v)

		observability.VerifyMismatchesTotal.WithLabelValues(string(kind), "missing_in_store").Add(float64(len(v.MissingInStore)))
		observability.VerifyMismatchesTotal.WithLabelValues(string(kind), "missing_in_files").Add(float64(len(v.MissingInFiles)))
		observability.VerifyMismatchesTotal.WithLabelValues(string(kind), "drifted").Add(float64(len(v.Drifted)))
		if v.Mismatched() {
			log.Warn("verification mismatch",
				"kind", kind,
				"file_count", v.FileCount,
				"store_count", v.StoreCount,
				"missing_in_store", len(v.MissingInStore),
				"missing_in_files", len(v.MissingInFiles),
				"drifted", len(v.Drifted))
		}
	}
	return nil
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
