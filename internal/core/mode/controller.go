package mode

import (
	"context"
	"fmt"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/observability"
	"raafstore/internal/shared/util"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Source names where a result came from.
type Source string

const (
	SourceNone  Source = "none"
	SourceFiles Source = "files"
	SourceStore Source = "store"
	SourceBoth  Source = "both"
)

// Operation is one logical read, write or delete against a natural key. Writes take
// their key from Entity.
type Operation struct {
	Action     Action
	Key        entity.Key
	Entity     entity.Entity
	ResumeText []byte
}

type Result struct {
	Entity  entity.Entity
	Found   bool
	Source  Source
	StoreID int64
	Changed bool
}

// DualWriter performs the file-then-store write used in dual mode. Update is a
// read-modify-write of one key under the same lock Write takes.
type DualWriter interface {
	Write(ctx context.Context, e entity.Entity, resumeText []byte) (ports.UpsertResult, error)
	Update(ctx context.Context, key entity.Key, mutate func(entity.Entity) (entity.Entity, error)) (entity.Entity, bool, ports.UpsertResult, error)
}

// Controller executes operations under a mode fixed at construction.
type Controller struct {
	mode  Mode
	files ports.FileAdapter
	store ports.Store
	dual  DualWriter
	gate  *util.Gate
	locks *util.KeyedMutex
}

type Deps struct {
	Files ports.FileAdapter
	Store ports.Store
	Dual  DualWriter
	// Gate is shared with the backfill engine, which holds it exclusively.
	Gate *util.Gate
	// Locks must be the same instance the dual writer serializes on.
	Locks *util.KeyedMutex
}

func NewController(m Mode, deps Deps) (*Controller, error) {
	if _, err := ParseMode(string(m)); err != nil {
		return nil, err
	}
	if m.UsesFiles() && deps.Files == nil {
		return nil, fmt.Errorf("mode %s requires a file adapter", m)
	}
	if m.UsesStore() && deps.Store == nil {
		return nil, fmt.Errorf("mode %s requires a store", m)
	}
	if m == Dual && deps.Dual == nil {
		return nil, fmt.Errorf("mode %s requires a dual writer", m)
	}
	if deps.Gate == nil {
		deps.Gate = &util.Gate{}
	}
	if deps.Locks == nil {
		deps.Locks = util.NewKeyedMutex()
	}
	return &Controller{
		mode:  m,
		files: deps.Files,
		store: deps.Store,
		dual:  deps.Dual,
		gate:  deps.Gate,
		locks: deps.Locks,
	}, nil
}

func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) Execute(ctx context.Context, op Operation) (Result, error) {
	if op.Action == ActionWrite && op.Entity != nil {
		op.Key = op.Entity.NaturalKey()
	}
	ctx, span := observability.Tracer.Start(ctx, "mode.Execute", trace.WithAttributes(
		attribute.String("raaf.mode", string(c.mode)),
		attribute.String("raaf.action", string(op.Action)),
		attribute.String("raaf.kind", string(op.Key.Kind)),
		attribute.String("raaf.key", op.Key.String()),
	))
	defer span.End()
	start := time.Now()

	res, err := c.execute(ctx, op)

	observability.ModeOperationDuration.WithLabelValues(string(c.mode), string(op.Action)).Observe(time.Since(start).Seconds())
	source := res.Source
	if err != nil {
		source = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.CodeOf(err)))
	}
	observability.ModeOperationsTotal.WithLabelValues(string(c.mode), string(op.Action), string(source)).Inc()
	return res, err
}

func (c *Controller) execute(ctx context.Context, op Operation) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	switch op.Action {
	case ActionRead:
		if err := validKey(op.Key); err != nil {
			return Result{}, err
		}
		return c.read(ctx, op.Key)
	case ActionWrite:
		if op.Entity == nil {
			return Result{}, errors.New(errors.CodeValidationError, "write needs an entity")
		}
		return c.write(ctx, op.Entity, op.ResumeText)
	case ActionDelete:
		if err := validKey(op.Key); err != nil {
			return Result{}, err
		}
		return c.delete(ctx, op.Key)
	}
	return Result{}, errors.New(errors.CodeValidationError, fmt.Sprintf("unknown action %q", op.Action))
}

func validKey(key entity.Key) error {
	if err := key.Validate(); err != nil {
		return errors.Wrap(err, errors.CodeValidationError, "invalid key")
	}
	return nil
}

// read never takes per-key locks. Dual mode prefers the store and falls back to files
// on NotFound; any other store failure is returned as is.
func (c *Controller) read(ctx context.Context, key entity.Key) (Result, error) {
	switch c.mode {
	case Files:
		return c.readFiles(ctx, key)
	case DB:
		return c.readStore(ctx, key)
	}
	res, err := c.readStore(ctx, key)
	if err != nil || res.Found {
		return res, err
	}
	return c.readFiles(ctx, key)
}

func (c *Controller) readFiles(ctx context.Context, key entity.Key) (Result, error) {
	e, found, err := c.files.Read(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Source: SourceNone}, nil
	}
	return Result{Entity: e, Found: true, Source: SourceFiles}, nil
}

func (c *Controller) readStore(ctx context.Context, key entity.Key) (Result, error) {
	e, err := c.store.Get(ctx, key)
	if errors.IsNotFound(err) {
		return Result{Source: SourceNone}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Entity: e, Found: true, Source: SourceStore}, nil
}

func (c *Controller) write(ctx context.Context, e entity.Entity, resumeText []byte) (Result, error) {
	release := c.gate.Shared()
	defer release()

	if c.mode == Dual {
		up, err := c.dual.Write(ctx, e, resumeText)
		if err != nil {
			return Result{}, err
		}
		return Result{Entity: e, Found: true, Source: SourceBoth, StoreID: up.ID, Changed: up.Changed}, nil
	}

	unlock := c.locks.Lock(e.NaturalKey().LockKey())
	defer unlock()

	if c.mode == Files {
		if err := c.files.Write(ctx, e, resumeText); err != nil {
			return Result{}, err
		}
		return Result{Entity: e, Found: true, Source: SourceFiles, Changed: true}, nil
	}
	up, err := c.store.Upsert(ctx, e)
	if err != nil {
		return Result{}, err
	}
	return Result{Entity: e, Found: true, Source: SourceStore, StoreID: up.ID, Changed: up.Changed}, nil
}

// delete is a soft delete. The store archives any kind; on the file side only clients
// and requisitions have a terminal status to write, the rest are archived by moving
// files, which is outside this controller.
func (c *Controller) delete(ctx context.Context, key entity.Key) (Result, error) {
	if c.mode == DB {
		release := c.gate.Shared()
		defer release()
		unlock := c.locks.Lock(key.LockKey())
		defer unlock()
		if err := c.store.Delete(ctx, key); err != nil {
			if errors.IsNotFound(err) {
				return Result{Source: SourceNone}, nil
			}
			return Result{}, err
		}
		return Result{Found: true, Source: SourceStore, Changed: true}, nil
	}

	if key.Kind != entity.KindClient && key.Kind != entity.KindRequisition {
		return Result{}, errors.New(errors.CodeNotSupported,
			fmt.Sprintf("deleting a %s is not supported in %s mode; archive its files instead", key.Kind, c.mode))
	}

	release := c.gate.Shared()
	defer release()

	if c.mode == Dual {
		e, found, up, err := c.dual.Update(ctx, key, terminal)
		if err != nil || !found {
			return Result{Source: SourceNone}, err
		}
		return Result{Entity: e, Found: true, Source: SourceBoth, StoreID: up.ID, Changed: up.Changed}, nil
	}

	unlock := c.locks.Lock(key.LockKey())
	defer unlock()

	current, found, err := c.files.Read(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Source: SourceNone}, nil
	}
	e, err := terminal(current)
	if err != nil {
		return Result{}, err
	}
	if err := c.files.Write(ctx, e, nil); err != nil {
		return Result{}, err
	}
	return Result{Entity: e, Found: true, Source: SourceFiles, Changed: true}, nil
}

// terminal returns e with the status a soft delete leaves behind.
func terminal(e entity.Entity) (entity.Entity, error) {
	switch v := e.(type) {
	case entity.Client:
		v.Status = entity.ClientInactive
		return v, nil
	case entity.Requisition:
		v.Status = entity.RequisitionCancelled
		return v, nil
	}
	return nil, errors.New(errors.CodeNotSupported, fmt.Sprintf("%s has no terminal status", e.EntityKind()))
}
