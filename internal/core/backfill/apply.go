package backfill

import (
	"context"
	"log/slog"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/observability"
)

// apply upserts the inventory in dependency order, archives rows that left the tree
// and acknowledges journal entries the pass repaired.
func (e *Engine) apply(ctx context.Context, inv *ports.FileInventory, report *Report, log *slog.Logger) error {
	ctx, span := observability.Tracer.Start(ctx, "backfill.apply")
	defer span.End()

	failed := make(map[string]bool)
	for _, f := range report.Failures {
		failed[failureKey(f.Kind, f.Key)] = true
	}

	for _, items := range ordered(inv) {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.upsert(ctx, item, report, log); err != nil {
				if errors.IsStoreUnavailable(err) || ctx.Err() != nil {
					span.RecordError(err)
					return err
				}
				failed[failureKey(item.EntityKind(), item.NaturalKey().String())] = true
			}
		}
	}

	if err := e.sweep(ctx, inv, report, log); err != nil {
		return err
	}
	e.ack(ctx, inv.Scope, failed, report, log)
	return nil
}

// ordered groups the inventory so every parent precedes its children.
func ordered(inv *ports.FileInventory) [][]entity.Entity {
	groups := make([][]entity.Entity, 0, 5)
	groups = append(groups, asEntities(inv.Clients))
	groups = append(groups, asEntities(inv.Requisitions))
	groups = append(groups, asEntities(inv.Candidates))
	groups = append(groups, asEntities(inv.Batches))
	groups = append(groups, asEntities(inv.Assessments))
	return groups
}

func asEntities[T entity.Entity](items []T) []entity.Entity {
	out := make([]entity.Entity, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	return out
}

// upsert writes one entity. The store call ignores cancellation so an entity is never
// left half-applied; the caller checks ctx between entities. Only StoreUnavailable is
// returned, other failures land in the report.
func (e *Engine) upsert(ctx context.Context, item entity.Entity, report *Report, log *slog.Logger) error {
	kind := item.EntityKind()
	key := item.NaturalKey().String()
	if err := e.limiter.Wait(ctx, 1); err != nil {
		return err
	}

	res, err := e.store.Upsert(context.WithoutCancel(ctx), item)
	if err != nil {
		if errors.IsStoreUnavailable(err) {
			return err
		}
		log.Warn("upsert failed", "kind", kind, "key", key, "error", err)
		report.fail(kind, key, "", err)
		observability.BackfillUpsertsTotal.WithLabelValues(string(kind), "failed").Inc()
		return err
	}

	stats := report.stats(kind)
	outcome := "unchanged"
	switch {
	case res.Created:
		stats.Created++
		outcome = "created"
	case res.Changed:
		stats.Updated++
		outcome = "updated"
	default:
		stats.Unchanged++
	}
	observability.BackfillUpsertsTotal.WithLabelValues(string(kind), outcome).Inc()
	if outcome != "unchanged" {
		log.Debug("upserted", "kind", kind, "key", key, "outcome", outcome)
	}
	return nil
}

// sweep archives store rows whose keys the scan no longer saw, children first.
func (e *Engine) sweep(ctx context.Context, inv *ports.FileInventory, report *Report, log *slog.Logger) error {
	if !sweepAllowed(inv, log) {
		return nil
	}
	ctx, span := observability.Tracer.Start(ctx, "backfill.sweep")
	defer span.End()

	for i := len(entity.Kinds) - 1; i >= 0; i-- {
		kind := entity.Kinds[i]
		if !sweepable(kind, inv.Scope) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		archived, err := e.store.ArchiveMissing(context.WithoutCancel(ctx), kind, inv.Seen[kind], inv.Scope)
		if err != nil {
			if errors.IsStoreUnavailable(err) {
				return err
			}
			log.Warn("archive sweep failed", "kind", kind, "error", err)
			report.fail(kind, "", "", err)
			continue
		}
		if len(archived) == 0 {
			continue
		}
		if report.Archived == nil {
			report.Archived = make(map[string][]string)
		}
		report.Archived[string(kind)] = archived
		report.stats(kind).Archived += len(archived)
		observability.BackfillUpsertsTotal.WithLabelValues(string(kind), "archived").Add(float64(len(archived)))
		log.Info("archived rows missing from files", "kind", kind, "count", len(archived))
	}
	return nil
}

// sweepable reports whether rows of kind are owned by scope. A requisition scope
// still inventories its client but does not own it.
func sweepable(kind entity.Kind, scope ports.Scope) bool {
	return !(kind == entity.KindClient && scope.ReqID != "")
}

// sweepAllowed refuses to archive everything when a full scan finds no clients at all,
// which almost always means a wrong tree root.
func sweepAllowed(inv *ports.FileInventory, log *slog.Logger) bool {
	if inv.Scope.IsZero() && len(inv.Seen[entity.KindClient]) == 0 {
		if log != nil {
			log.Warn("file tree has no clients; skipping archive sweep")
		}
		return false
	}
	return true
}

// ack clears journal entries in scope whose keys went through the pass without error.
func (e *Engine) ack(ctx context.Context, scope ports.Scope, failed map[string]bool, report *Report, log *slog.Logger) {
	if e.journal == nil {
		return
	}
	jctx := context.WithoutCancel(ctx)
	pending, err := e.journal.Pending(jctx, scope, 0)
	if err != nil {
		log.Warn("failed to read reconciliation journal", "error", err)
		return
	}
	ids := make([]int64, 0, len(pending))
	for _, entry := range pending {
		if failed[failureKey(entry.Kind, entry.Key)] {
			continue
		}
		ids = append(ids, entry.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := e.journal.Ack(jctx, ids); err != nil {
		log.Warn("failed to acknowledge journal entries", "count", len(ids), "error", err)
		return
	}
	report.JournalAcked = len(ids)
	log.Info("acknowledged repaired journal entries", "count", len(ids))
}

func failureKey(kind entity.Kind, key string) string {
	return string(kind) + ":" + key
}
