package watcher

import (
	"context"
	"path/filepath"
	"raafstore/internal/core/backfill"
	"raafstore/internal/core/ports"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu     sync.Mutex
	scopes []ports.Scope
	locked int
}

func (f *fakeRunner) Run(_ context.Context, opts backfill.Options) (*backfill.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked > 0 {
		f.locked--
		return nil, backfill.ErrLocked
	}
	f.scopes = append(f.scopes, opts.Scope)
	return &backfill.Report{Mode: opts.Mode, Scope: opts.Scope.String()}, nil
}

func TestReconciler_RunsOnePassPerScope(t *testing.T) {
	root := "/srv/tree"
	runner := &fakeRunner{}
	var reports []*backfill.Report
	r := NewReconciler(root, runner, func(rep *backfill.Report, err error) {
		require.NoError(t, err)
		reports = append(reports, rep)
	})

	r.Reconcile(context.Background(), []string{
		filepath.Join(root, "clients", "acme", "requisitions", "REQ-1", "requisition.yaml"),
		filepath.Join(root, "clients", "globex", "client_info.yaml"),
	})

	assert.Equal(t, []ports.Scope{
		{ClientCode: "acme", ReqID: "REQ-1"},
		{ClientCode: "globex"},
	}, runner.scopes)
	require.Len(t, reports, 2)
	assert.Equal(t, backfill.ModeNormal, reports[0].Mode)
}

func TestReconciler_RetriesWhileLocked(t *testing.T) {
	runner := &fakeRunner{locked: 2}
	r := NewReconciler("/srv/tree", runner, nil)
	r.retryDelay = time.Millisecond

	r.Reconcile(context.Background(), []string{"/srv/tree/clients/acme/client_info.yaml"})
	assert.Equal(t, []ports.Scope{{ClientCode: "acme"}}, runner.scopes)
}

func TestReconciler_GivesUpAfterAttempts(t *testing.T) {
	runner := &fakeRunner{locked: 10}
	var gotErr error
	r := NewReconciler("/srv/tree", runner, func(_ *backfill.Report, err error) { gotErr = err })
	r.retryDelay = time.Millisecond

	r.Reconcile(context.Background(), []string{"/srv/tree/clients/acme/client_info.yaml"})
	assert.ErrorIs(t, gotErr, backfill.ErrLocked)
	assert.Empty(t, runner.scopes)
}

func TestReconciler_StopsWhenCancelled(t *testing.T) {
	runner := &fakeRunner{}
	r := NewReconciler("/srv/tree", runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Reconcile(ctx, []string{"/srv/tree/clients/acme/client_info.yaml"})
	assert.Empty(t, runner.scopes)
}
