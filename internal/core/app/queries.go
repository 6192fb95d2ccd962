package app

import (
	"context"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/mode"
	"raafstore/internal/data/store"
	"raafstore/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Get reads one entity through the mode controller.
func (a *App) Get(ctx context.Context, key entity.Key) (mode.Result, error) {
	return a.Execute(ctx, mode.Operation{Action: mode.ActionRead, Key: key})
}

// Dashboard reads the per-requisition pipeline projection from the store.
func (a *App) Dashboard(ctx context.Context, clientCode string) ([]store.DashboardRow, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Dashboard", trace.WithAttributes(
		attribute.String("raaf.client_code", clientCode),
	))
	defer span.End()
	if err := a.requireStore("dashboard"); err != nil {
		return nil, err
	}
	return a.Store.Dashboard(ctx, clientCode)
}

// Search runs a structured candidate search, or a narrative full-text search when the
// query carries only free text.
func (a *App) Search(ctx context.Context, q store.SearchQuery, narrative bool) ([]store.SearchRow, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Search", trace.WithAttributes(
		attribute.Bool("raaf.narrative", narrative),
	))
	defer span.End()
	if err := a.requireStore("search"); err != nil {
		return nil, err
	}
	if narrative {
		return a.Store.SearchNarrative(ctx, q.Text, q.Limit)
	}
	return a.Store.Search(ctx, q)
}
