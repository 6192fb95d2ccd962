// Package dualwrite applies one write to the file tree and then the store.
package dualwrite

import (
	"context"
	"fmt"
	"log/slog"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/observability"
	"raafstore/internal/shared/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Coordinator serializes writers per natural key and writes files before the store.
// A store failure after a successful file write is reported as a partial write and
// journaled for the next backfill pass. Nothing is retried here.
type Coordinator struct {
	files   ports.FileAdapter
	store   ports.Store
	journal ports.Journal
	locks   *util.KeyedMutex
}

func New(files ports.FileAdapter, store ports.Store, journal ports.Journal, locks *util.KeyedMutex) (*Coordinator, error) {
	if files == nil || store == nil {
		return nil, fmt.Errorf("dual write needs both a file adapter and a store")
	}
	if locks == nil {
		locks = util.NewKeyedMutex()
	}
	return &Coordinator{files: files, store: store, journal: journal, locks: locks}, nil
}

// Write persists e. resumeText only applies to candidates.
func (c *Coordinator) Write(ctx context.Context, e entity.Entity, resumeText []byte) (ports.UpsertResult, error) {
	if e == nil {
		return ports.UpsertResult{}, errors.New(errors.CodeValidationError, "nil entity")
	}
	key := e.NaturalKey()
	ctx, span := observability.Tracer.Start(ctx, "dualwrite.Write", trace.WithAttributes(
		attribute.String("raaf.kind", string(key.Kind)),
		attribute.String("raaf.key", key.String()),
	))
	defer span.End()

	unlock := c.locks.Lock(key.LockKey())
	defer unlock()
	return c.write(ctx, span, e, resumeText)
}

// Update reads key from the file tree, applies mutate and writes the result to both
// stores, all under the key's lock so no concurrent write lands in between. found is
// false when the file tree has no such entity; nothing is written then.
func (c *Coordinator) Update(ctx context.Context, key entity.Key, mutate func(entity.Entity) (entity.Entity, error)) (entity.Entity, bool, ports.UpsertResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "dualwrite.Update", trace.WithAttributes(
		attribute.String("raaf.kind", string(key.Kind)),
		attribute.String("raaf.key", key.String()),
	))
	defer span.End()

	unlock := c.locks.Lock(key.LockKey())
	defer unlock()

	current, found, err := c.files.Read(ctx, key)
	if err != nil || !found {
		return nil, false, ports.UpsertResult{}, err
	}
	next, err := mutate(current)
	if err != nil {
		return nil, true, ports.UpsertResult{}, err
	}
	res, err := c.write(ctx, span, next, nil)
	if err != nil {
		return nil, true, ports.UpsertResult{}, err
	}
	return next, true, res, nil
}

// write is the file-then-store sequence; the caller holds the key's lock.
func (c *Coordinator) write(ctx context.Context, span trace.Span, e entity.Entity, resumeText []byte) (ports.UpsertResult, error) {
	key := e.NaturalKey()
	if err := c.files.Write(ctx, e, resumeText); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "file write failed")
		return ports.UpsertResult{}, err
	}

	res, err := c.upsertFromFiles(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store upsert failed")
		return ports.UpsertResult{}, c.partial(ctx, key, err)
	}
	return res, nil
}

// upsertFromFiles re-reads what the file tree now holds so the store receives the
// same derived attributes a backfill would compute.
func (c *Coordinator) upsertFromFiles(ctx context.Context, key entity.Key) (ports.UpsertResult, error) {
	current, err := c.readBack(ctx, key)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	a, ok := current.(entity.Assessment)
	if !ok {
		return c.store.Upsert(ctx, current)
	}
	owner, err := c.readBack(ctx, a.CandidateKey())
	if err != nil {
		return ports.UpsertResult{}, err
	}
	_, res, err := c.store.UpsertCandidateWithAssessment(ctx, owner.(entity.Candidate), a)
	return res, err
}

func (c *Coordinator) readBack(ctx context.Context, key entity.Key) (entity.Entity, error) {
	e, found, err := c.files.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("%s %s not readable after write", key.Kind, key))
	}
	return e, nil
}

func (c *Coordinator) partial(ctx context.Context, key entity.Key, cause error) error {
	observability.DualWritePartialTotal.WithLabelValues(string(key.Kind)).Inc()

	// The journal entry must land even when the caller's context is already done.
	jctx := context.WithoutCancel(ctx)
	entry := ports.JournalEntry{
		Kind:      key.Kind,
		Key:       key.String(),
		Operation: "write",
		Error:     cause.Error(),
	}
	if owner, err := c.files.OwnerOf(jctx, key); err == nil {
		entry.ClientCode, entry.ReqID = owner.ClientCode, owner.ReqID
	}
	if c.journal != nil {
		if err := c.journal.Record(jctx, entry); err != nil {
			slog.Error("failed to journal partial write", "kind", key.Kind, "key", key.String(), "error", err)
		}
	}
	slog.Warn("store left behind file tree", "kind", key.Kind, "key", key.String(), "error", cause)
	return errors.PartialWrite(string(key.Kind), key.String(), cause)
}
