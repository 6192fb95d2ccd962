package report

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"raafstore/internal/core/backfill"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/mode"
	"raafstore/internal/data/store"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(m backfill.RunMode) *backfill.Report {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &backfill.Report{
		RunID:      "run-1",
		Mode:       m,
		Scope:      "acme",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Stats: []backfill.KindStats{
			{Kind: entity.KindClient, Scanned: 1, Created: 1},
			{Kind: entity.KindCandidate, Scanned: 2, Created: 1, Failed: 1},
		},
		JournalPending: 2,
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestBackfillText_NormalRun(t *testing.T) {
	r := sampleReport(backfill.ModeNormal)
	r.Failures = []backfill.Failure{{
		Kind:  entity.KindCandidate,
		Key:   "REQ-1/john_roe",
		Path:  "clients/acme/requisitions/REQ-1/resumes/processed/john_roe_candidate.yaml",
		Code:  errors.CodeParse,
		Error: "bad yaml",
	}}
	r.Archived = map[string][]string{"requisition": {"REQ-2"}}

	out := BackfillText(r)
	for _, want := range []string{"Backfill normal", "run-1", "scope acme", "1.5s", "SCANNED", "candidate",
		"REQ-1/john_roe", "PARSE_ERROR", "journal: 0 acknowledged, 2 pending", "result: failed"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "requisition REQ-2")
}

func TestBackfillText_VerifyMismatch(t *testing.T) {
	r := sampleReport(backfill.ModeVerify)
	r.Stats = nil
	r.Verification = []backfill.KindVerification{
		{Kind: entity.KindClient, FileCount: 1, StoreCount: 1, MissingInStore: []string{}, MissingInFiles: []string{}, Drifted: []string{"acme"}},
		{Kind: entity.KindCandidate, FileCount: 2, StoreCount: 2, MissingInStore: []string{}, MissingInFiles: []string{}, Drifted: []string{}},
	}

	out := BackfillText(r)
	assert.Contains(t, out, "MISSING IN STORE")
	assert.Contains(t, out, "drifted: acme")
	assert.Contains(t, out, "result: mismatch")
	assert.Equal(t, "mismatch", Verdict(r))
}

func TestBackfillText_DryRunPlan(t *testing.T) {
	r := sampleReport(backfill.ModeDryRun)
	out := BackfillText(r)
	assert.Contains(t, out, "nothing to write")

	r.Plan = []backfill.PlanItem{{Kind: entity.KindClient, Key: "acme", Action: backfill.PlanUpdate}}
	out = BackfillText(r)
	assert.Contains(t, out, "ACTION")
	assert.Contains(t, out, "update")
}

func TestBackfill_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Backfill(&buf, sampleReport(backfill.ModeNormal), FormatJSON))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, "normal", decoded["mode"])
	assert.Len(t, decoded["stats"], 2)

	assert.Error(t, Backfill(&buf, nil, FormatText))
}

func TestEntity(t *testing.T) {
	res := mode.Result{
		Found:  true,
		Source: mode.SourceFiles,
		Entity: entity.Client{Code: "acme", CompanyName: "Acme Corp", Status: entity.ClientActive},
	}

	var text bytes.Buffer
	require.NoError(t, Entity(&text, res, FormatText))
	assert.Contains(t, text.String(), "client acme (from files)")
	assert.Contains(t, text.String(), "company_name: Acme Corp")

	var js bytes.Buffer
	require.NoError(t, Entity(&js, res, FormatJSON))
	assert.Contains(t, js.String(), `"key": "acme"`)

	var missing bytes.Buffer
	require.NoError(t, Entity(&missing, mode.Result{Source: mode.SourceNone}, FormatText))
	assert.Contains(t, missing.String(), "not found")
}

func TestDashboardAndSearch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dashboard(&buf, []store.DashboardRow{{
		ClientCode: "acme", ReqID: "REQ-1", Title: "Backend Engineer", Candidates: 2, Assessed: 1, Pending: 1, AvgPercentage: 86,
	}}, FormatText))
	assert.Contains(t, buf.String(), "Backend Engineer")
	assert.Contains(t, buf.String(), "86.0")

	buf.Reset()
	require.NoError(t, Dashboard(&buf, nil, FormatJSON))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))

	pct := 86.0
	buf.Reset()
	require.NoError(t, Search(&buf, []store.SearchRow{{ReqID: "REQ-1", DisplayName: "Jane Doe", Status: entity.CandidateAssessed, Percentage: &pct}}, FormatText))
	assert.Contains(t, buf.String(), "Jane Doe")
	assert.Contains(t, buf.String(), "1 matches")

	buf.Reset()
	require.NoError(t, Search(&buf, nil, FormatText))
	assert.Contains(t, buf.String(), "no matches")
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "backfill.json")
	require.NoError(t, WriteFile(path, func(w io.Writer) error {
		return Backfill(w, sampleReport(backfill.ModeNormal), FormatJSON)
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-1"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}
