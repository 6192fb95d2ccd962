package app

import (
	"context"
	"os"
	"path/filepath"
	"raafstore/internal/core/backfill"
	"raafstore/internal/core/config"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/mode"
	"raafstore/internal/data/journal"
	"raafstore/internal/data/store"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assessmentJSON = `{
  "metadata": {"assessor": "AI/Claude", "assessed_at": "2024-03-01T10:00:00Z"},
  "total_score": 86,
  "percentage": 86,
  "recommendation": "STRONG RECOMMEND",
  "summary": "Strong distributed systems background."
}
`

func writeTree(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"clients/acme/client_info.yaml":                                                   "client_code: acme\ncompany_name: Acme Corp\n",
		"clients/acme/requisitions/REQ-1/requisition.yaml":                                "requisition_id: REQ-1\nclient_code: acme\njob:\n  title: Backend Engineer\n",
		"clients/acme/requisitions/REQ-1/resumes/processed/jane_doe_resume.txt":           "Jane Doe",
		"clients/acme/requisitions/REQ-1/resumes/processed/john_roe_resume.txt":           "John Roe",
		"clients/acme/requisitions/REQ-1/assessments/individual/jane_doe_assessment.json": assessmentJSON,
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// newApp builds an App over a fresh project directory laid out with default paths.
func newApp(t *testing.T, configure func(*config.Config)) *App {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root)

	cfg := config.DefaultConfig()
	cfg.Paths.ProjectRoot = root
	if configure != nil {
		configure(cfg)
	}
	paths, err := config.ResolvePaths(cfg, root)
	require.NoError(t, err)

	a, err := New(cfg, paths)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_DefaultsToFilesMode(t *testing.T) {
	a := newApp(t, nil)

	assert.Equal(t, mode.Files, a.Mode)
	assert.Equal(t, mode.Files, a.Controller.Mode())
	assert.FileExists(t, a.Paths.DBPath)
	_, sqlite := a.Journal.(*journal.SQLiteJournal)
	assert.True(t, sqlite, "journal should be persistent by default")
}

func TestNew_EnvironmentOverridesConfiguredMode(t *testing.T) {
	t.Setenv(mode.EnvVar, "dual")
	a := newApp(t, func(cfg *config.Config) { cfg.Persistence.Mode = "db" })
	assert.Equal(t, mode.Dual, a.Mode)
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	t.Setenv(mode.EnvVar, "sideways")
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.ProjectRoot = root
	paths, err := config.ResolvePaths(cfg, root)
	require.NoError(t, err)

	_, err = New(cfg, paths)
	require.Error(t, err)
}

// corruptProject lays out the acme tree next to a database file that is not SQLite.
func corruptProject(t *testing.T) (*config.Config, config.ResolvedPaths) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root)
	cfg := config.DefaultConfig()
	cfg.Paths.ProjectRoot = root
	paths, err := config.ResolvePaths(cfg, root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(paths.DBPath), 0o755))
	require.NoError(t, os.WriteFile(paths.DBPath, []byte("this is not a sqlite database, just garbage bytes"), 0o644))
	return cfg, paths
}

func TestNew_FilesModeStartsWithoutStore(t *testing.T) {
	t.Setenv(mode.EnvVar, "files")
	cfg, paths := corruptProject(t)
	ctx := context.Background()

	a, err := New(cfg, paths)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Nil(t, a.Store)
	assert.Nil(t, a.Backfill)

	res, err := a.Get(ctx, entity.ClientKey("acme"))
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, mode.SourceFiles, res.Source)
	assert.Equal(t, "Acme Corp", res.Entity.(entity.Client).CompanyName)

	_, err = a.RunBackfill(ctx, backfill.Options{Mode: backfill.ModeNormal})
	assert.True(t, errors.IsStoreUnavailable(err), "got %v", err)
	_, err = a.Dashboard(ctx, "acme")
	assert.True(t, errors.IsStoreUnavailable(err), "got %v", err)
	assert.True(t, errors.IsStoreUnavailable(a.StartWatcher(ctx, nil)))

	status := NewHealthService(a).Check(ctx)
	assert.Equal(t, "degraded", status.Status)
	require.NoError(t, a.Close())
}

func TestNew_StoreModesFailOnCorruptStore(t *testing.T) {
	for _, m := range []string{"dual", "db"} {
		t.Run(m, func(t *testing.T) {
			t.Setenv(mode.EnvVar, m)
			cfg, paths := corruptProject(t)
			_, err := New(cfg, paths)
			require.Error(t, err)
			assert.True(t, errors.IsStoreUnavailable(err), "got %v", err)
		})
	}
}

func TestNew_MemoryJournalWhenDisabled(t *testing.T) {
	a := newApp(t, func(cfg *config.Config) {
		disabled := false
		cfg.Journal.Enabled = &disabled
	})
	_, mem := a.Journal.(*journal.MemoryJournal)
	assert.True(t, mem)
	assert.Empty(t, a.Paths.JournalPath)
}

func TestApp_BackfillThenDualRead(t *testing.T) {
	t.Setenv(mode.EnvVar, "dual")
	a := newApp(t, nil)
	ctx := context.Background()

	report, err := a.RunBackfill(ctx, backfill.Options{Mode: backfill.ModeNormal})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 5, report.Writes())

	res, err := a.Get(ctx, entity.CandidateKey("REQ-1", "jane_doe"))
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, mode.SourceStore, res.Source)

	rows, err := a.Dashboard(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Candidates)
	assert.Equal(t, 1, rows[0].Assessed)

	found, err := a.Search(ctx, store.SearchQuery{Text: "distributed"}, true)
	require.NoError(t, err)
	require.Len(t, found, 1)

	verify, err := a.RunBackfill(ctx, backfill.Options{Mode: backfill.ModeVerify})
	require.NoError(t, err)
	assert.NoError(t, verify.Err())
}

func TestApp_DBModeBackfillKeepsStoreWrites(t *testing.T) {
	t.Setenv(mode.EnvVar, "db")
	a := newApp(t, nil)
	ctx := context.Background()

	_, err := a.RunBackfill(ctx, backfill.Options{Mode: backfill.ModeNormal})
	assert.True(t, errors.IsCode(err, errors.CodeNotSupported), "got %v", err)

	_, err = a.Execute(ctx, mode.Operation{
		Action: mode.ActionWrite,
		Entity: entity.Client{Code: "globex", CompanyName: "Globex", Status: entity.ClientActive},
	})
	require.NoError(t, err)

	_, err = a.RunBackfill(ctx, backfill.Options{Mode: backfill.ModeNormal})
	assert.True(t, errors.IsCode(err, errors.CodeNotSupported), "got %v", err)
	assert.ErrorIs(t, a.StartWatcher(ctx, nil), backfill.ErrStoreAuthoritative)

	verify, err := a.RunBackfill(ctx, backfill.Options{Mode: backfill.ModeVerify})
	require.NoError(t, err)
	assert.True(t, verify.Mismatched())

	res, err := a.Get(ctx, entity.ClientKey("globex"))
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, entity.ClientActive, res.Entity.(entity.Client).Status)
}

func TestHealthService_Check(t *testing.T) {
	a := newApp(t, nil)
	ctx := context.Background()

	status := NewHealthService(a).Check(ctx)
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "files", status.Mode)
	assert.Equal(t, "ok", status.Components["store"])
	assert.Equal(t, "ok (0 pending)", status.Components["journal"])

	require.NoError(t, a.Store.Close())
	status = NewHealthService(a).Check(ctx)
	assert.Equal(t, "degraded", status.Status, "files mode survives a dead store")
}

func TestHealthService_DownWhenModeNeedsStore(t *testing.T) {
	t.Setenv(mode.EnvVar, "db")
	a := newApp(t, nil)
	require.NoError(t, a.Store.Close())

	status := NewHealthService(a).Check(context.Background())
	assert.Equal(t, "down", status.Status)
}

func TestApp_WatcherReconcilesChanges(t *testing.T) {
	a := newApp(t, func(cfg *config.Config) { cfg.Watch.Debounce = 50 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *backfill.Report, 8)
	require.NoError(t, a.StartWatcher(ctx, func(r *backfill.Report, err error) {
		if err == nil {
			reports <- r
		}
	}))
	require.Error(t, a.StartWatcher(ctx, nil), "a second watcher is refused")

	resume := filepath.Join(a.Files.Root(), "clients", "acme", "requisitions", "REQ-1", "resumes", "processed", "kim_park_resume.txt")
	require.NoError(t, os.WriteFile(resume, []byte("Kim Park"), 0o644))

	select {
	case r := <-reports:
		assert.Equal(t, "acme/REQ-1", r.Scope)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for incremental backfill")
	}

	_, err := a.Store.GetCandidate(ctx, entity.CandidateKey("REQ-1", "kim_park"))
	require.NoError(t, err)

	a.StopWatcher()
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
