package dualwrite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"raafstore/internal/data/filetree"
	"raafstore/internal/data/journal"
	"raafstore/internal/data/store"
	"raafstore/internal/shared/util"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails every upsert while failing is set and tracks overlapping calls.
type flakyStore struct {
	ports.Store
	failing   atomic.Bool
	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *flakyStore) enter() func() {
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return func() { f.active.Add(-1) }
}

func (f *flakyStore) Upsert(ctx context.Context, e entity.Entity) (ports.UpsertResult, error) {
	defer f.enter()()
	if f.failing.Load() {
		return ports.UpsertResult{}, errors.StoreUnavailable("upsert", fmt.Errorf("database is locked"))
	}
	return f.Store.Upsert(ctx, e)
}

func (f *flakyStore) UpsertCandidateWithAssessment(ctx context.Context, c entity.Candidate, a entity.Assessment) (ports.UpsertResult, ports.UpsertResult, error) {
	defer f.enter()()
	if f.failing.Load() {
		return ports.UpsertResult{}, ports.UpsertResult{}, errors.StoreUnavailable("upsert", fmt.Errorf("database is locked"))
	}
	return f.Store.UpsertCandidateWithAssessment(ctx, c, a)
}

type fixture struct {
	root    string
	files   *filetree.Adapter
	store   *store.Store
	flaky   *flakyStore
	journal *journal.MemoryJournal
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{
		"clients/acme/client_info.yaml":                                         "client_code: acme\ncompany_name: Acme Corp\n",
		"clients/acme/requisitions/REQ-1/requisition.yaml":                      "requisition_id: REQ-1\nclient_code: acme\n",
		"clients/acme/requisitions/REQ-1/resumes/processed/jane_doe_resume.txt": "Jane",
	} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	files, err := filetree.New(root, nil)
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(t.TempDir(), "raaf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	flaky := &flakyStore{Store: st}
	j := journal.NewMemoryJournal()
	coord, err := New(files, flaky, j, util.NewKeyedMutex())
	require.NoError(t, err)
	return &fixture{root: root, files: files, store: st, flaky: flaky, journal: j, coord: coord}
}

func (f *fixture) seedStore(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	inv, err := f.files.Scan(ctx, ports.Scope{})
	require.NoError(t, err)
	for _, c := range inv.Clients {
		_, err := f.store.Upsert(ctx, c)
		require.NoError(t, err)
	}
	for _, r := range inv.Requisitions {
		_, err := f.store.Upsert(ctx, r)
		require.NoError(t, err)
	}
}

func TestWrite_FilesThenStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := entity.Client{Code: "acme", CompanyName: "Acme Corporation", Industry: "Retail", Status: entity.ClientActive}
	res, err := f.coord.Write(ctx, c, nil)
	require.NoError(t, err)
	assert.True(t, res.Created)

	onDisk, found, err := f.files.ReadClient(ctx, "acme")
	require.NoError(t, err)
	require.True(t, found)
	inStore, err := f.store.GetClient(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, onDisk.ContentHash(), inStore.ContentHash())
	assert.Equal(t, "Acme Corporation", inStore.CompanyName)
}

func TestWrite_StoreFailureIsPartialAndJournaled(t *testing.T) {
	f := newFixture(t)
	f.seedStore(t)
	ctx := context.Background()
	f.flaky.failing.Store(true)

	cand := entity.Candidate{ReqID: "REQ-1", Name: "ann_lee", DisplayName: "Ann Lee", Status: entity.CandidatePending}
	_, err := f.coord.Write(ctx, cand, []byte("Ann resume"))
	require.Error(t, err)
	assert.True(t, errors.IsPartialWrite(err), "got %v", err)

	_, found, err := f.files.ReadCandidate(ctx, cand.NaturalKey())
	require.NoError(t, err)
	assert.True(t, found, "the file write stands")

	_, err = f.store.GetCandidate(ctx, cand.NaturalKey())
	assert.True(t, errors.IsNotFound(err), "the store is stale")

	pending, err := f.journal.Pending(ctx, ports.Scope{}, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entity.KindCandidate, pending[0].Kind)
	assert.Equal(t, "REQ-1/ann_lee", pending[0].Key)
	assert.Equal(t, "acme", pending[0].ClientCode)
	assert.Equal(t, "REQ-1", pending[0].ReqID)
}

func TestWrite_FileFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Write(ctx, entity.Requisition{ID: "REQ-9", ClientCode: "ghost", Status: entity.RequisitionActive}, nil)
	require.Error(t, err)
	assert.False(t, errors.IsPartialWrite(err))

	_, err = f.store.GetRequisition(ctx, "REQ-9")
	assert.True(t, errors.IsNotFound(err))
	n, err := f.journal.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWrite_AssessmentBringsItsCandidate(t *testing.T) {
	f := newFixture(t)
	f.seedStore(t)
	ctx := context.Background()

	a := entity.Assessment{
		ReqID: "REQ-1", CandidateName: "jane_doe", TotalScore: 86, MaxScore: 100, Percentage: 86,
		Recommendation: entity.RecommendStrong, Mode: entity.ModeAI, Summary: "Strong systems background.",
	}
	_, err := f.coord.Write(ctx, a, nil)
	require.NoError(t, err)

	cand, err := f.store.GetCandidate(ctx, entity.CandidateKey("REQ-1", "jane_doe"))
	require.NoError(t, err)
	assert.Equal(t, entity.CandidateAssessed, cand.Status)

	fileCand, _, err := f.files.ReadCandidate(ctx, entity.CandidateKey("REQ-1", "jane_doe"))
	require.NoError(t, err)
	assert.Equal(t, fileCand.ContentHash(), cand.ContentHash())
}

func TestWrite_SameKeyIsSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := entity.Client{Code: "acme", CompanyName: fmt.Sprintf("Acme %d", i), Status: entity.ClientActive}
			_, err := f.coord.Write(ctx, c, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.flaky.maxActive.Load())

	onDisk, _, err := f.files.ReadClient(ctx, "acme")
	require.NoError(t, err)
	inStore, err := f.store.GetClient(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, onDisk.ContentHash(), inStore.ContentHash(), "last writer wins in both stores")
}

func TestUpdate_ReadModifyWriteLandsInBoth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, found, res, err := f.coord.Update(ctx, entity.ClientKey("acme"), func(cur entity.Entity) (entity.Entity, error) {
		c := cur.(entity.Client)
		c.Industry = "Logistics"
		return c, nil
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, res.Created)
	assert.Equal(t, "Logistics", e.(entity.Client).Industry)

	onDisk, _, err := f.files.ReadClient(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", onDisk.CompanyName)
	inStore, err := f.store.GetClient(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, onDisk.ContentHash(), inStore.ContentHash())
}

func TestUpdate_MissingKeyWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	called := false
	_, found, _, err := f.coord.Update(ctx, entity.ClientKey("ghost"), func(cur entity.Entity) (entity.Entity, error) {
		called = true
		return cur, nil
	})
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, called)
	_, err = f.store.GetClient(ctx, "ghost")
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}
