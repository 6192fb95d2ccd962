package filetree

import (
	"context"
	"os"
	"path/filepath"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const janeAssessment = `{
  "candidate": {"name": "Jane Doe", "email": "jane@example.com"},
  "metadata": {"assessor": "AI/Claude", "assessed_at": "2024-03-01T10:00:00Z"},
  "total_score": 86,
  "percentage": 86,
  "recommendation": "STRONG RECOMMEND",
  "summary": "Solid distributed systems experience."
}
`

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func scenarioTree(t *testing.T) (string, *Adapter) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"clients/acme/client_info.yaml":                                                   "client_code: acme\ncompany_name: Acme Corp\nstatus: active\n",
		"clients/acme/requisitions/REQ-1/requisition.yaml":                                "requisition_id: REQ-1\nclient_code: acme\njob:\n  title: Backend Engineer\n",
		"clients/acme/requisitions/REQ-1/resumes/processed/jane_doe_resume.txt":           "Jane Doe resume",
		"clients/acme/requisitions/REQ-1/resumes/processed/john_roe_resume.txt":           "John Roe resume",
		"clients/acme/requisitions/REQ-1/assessments/individual/jane_doe_assessment.json": janeAssessment,
	})
	a, err := New(root, nil)
	require.NoError(t, err)
	return root, a
}

func TestScan_Scenario(t *testing.T) {
	_, a := scenarioTree(t)
	inv, err := a.Scan(context.Background(), ports.Scope{})
	require.NoError(t, err)

	require.Len(t, inv.Clients, 1)
	require.Len(t, inv.Requisitions, 1)
	require.Len(t, inv.Candidates, 2)
	require.Len(t, inv.Assessments, 1)
	assert.Empty(t, inv.Errors)

	byName := map[string]entity.Candidate{}
	for _, c := range inv.Candidates {
		byName[c.Name] = c
	}
	assert.Equal(t, entity.CandidateAssessed, byName["jane_doe"].Status)
	assert.Equal(t, "Jane Doe", byName["jane_doe"].DisplayName)
	assert.Equal(t, "jane@example.com", byName["jane_doe"].Email)
	assert.Equal(t, entity.CandidatePending, byName["john_roe"].Status)
	assert.Equal(t, []string{"clients/acme/requisitions/REQ-1/resumes/processed/john_roe_resume.txt"}, byName["john_roe"].ResumePaths)

	assert.Equal(t, 86.0, inv.Assessments[0].TotalScore)
	assert.Equal(t, entity.RecommendStrong, inv.Assessments[0].Recommendation)
	assert.Len(t, inv.Seen[entity.KindCandidate], 2)
	assert.Equal(t, inv.Candidates[0].ContentHash(), inv.Seen[entity.KindCandidate][inv.Candidates[0].NaturalKey().String()])
}

func TestScan_SameNormalizedNameIsOneCandidate(t *testing.T) {
	root, a := scenarioTree(t)
	writeTree(t, root, map[string]string{
		"clients/acme/requisitions/REQ-1/resumes/processed/Jane Doe.pdf": "%PDF",
	})
	scan, found, err := a.ScanRequisition(context.Background(), "REQ-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, scan.Candidates, 2)
	for _, c := range scan.Candidates {
		if c.Name == "jane_doe" {
			assert.Len(t, c.ResumePaths, 2)
		}
	}
}

func TestScan_MalformedAssessmentIsIsolated(t *testing.T) {
	root, a := scenarioTree(t)
	writeTree(t, root, map[string]string{
		"clients/acme/requisitions/REQ-1/assessments/individual/john_roe_assessment.json": `{"total_score": `,
	})
	inv, err := a.Scan(context.Background(), ports.Scope{ReqID: "REQ-1"})
	require.NoError(t, err)
	require.Len(t, inv.Errors, 1)
	fe := inv.Errors[0]
	assert.Equal(t, entity.KindAssessment, fe.Kind)
	assert.Equal(t, "REQ-1/john_roe", fe.Key)
	assert.True(t, errors.IsParse(fe.Err))

	hash, seen := inv.Seen[entity.KindAssessment]["REQ-1/john_roe"]
	assert.True(t, seen)
	assert.Empty(t, hash)
	assert.Len(t, inv.Assessments, 1)
	require.Len(t, inv.Candidates, 2)
	for _, c := range inv.Candidates {
		if c.Name == "john_roe" {
			assert.Equal(t, entity.CandidatePending, c.Status)
		}
	}

	_, _, err = a.ReadAssessment(context.Background(), entity.AssessmentKey("REQ-1", "john_roe"))
	assert.True(t, errors.IsParse(err), "direct reads of malformed files fail")
}

func TestScan_Batches(t *testing.T) {
	root, a := scenarioTree(t)
	writeTree(t, root, map[string]string{
		"clients/acme/requisitions/REQ-1/resumes/batches/2025-01-10-001/batch_manifest.yaml":          "batch_name: 2025-01-10-001\nfiles:\n  - Ann Lee.pdf\n  - Bo Chan.docx\n",
		"clients/acme/requisitions/REQ-1/resumes/batches/2025-01-10-001/originals/Ann Lee.pdf":        "%PDF",
		"clients/acme/requisitions/REQ-1/resumes/batches/2025-01-10-001/extracted/ann_lee_resume.txt": "Ann",
		"clients/acme/requisitions/REQ-1/resumes/batches/flat-a/cy_dorn_resume.txt":                   "Cy",
	})
	scan, _, err := a.ScanRequisition(context.Background(), "REQ-1")
	require.NoError(t, err)
	require.Len(t, scan.Batches, 2)

	nested, flat := scan.Batches[0], scan.Batches[1]
	assert.Equal(t, entity.BatchNested, nested.Kind)
	assert.Equal(t, 2, nested.CandidateCount)
	assert.Equal(t, "clients/acme/requisitions/REQ-1/resumes/batches/2025-01-10-001/batch_manifest.yaml", nested.ManifestPath)
	assert.Equal(t, entity.BatchFlat, flat.Kind)
	assert.Equal(t, 1, flat.CandidateCount)
	assert.Empty(t, flat.ManifestPath)

	assert.Equal(t, []string{"ann_lee", "bo_chan", "cy_dorn", "jane_doe", "john_roe"}, scan.Names)
	for _, c := range scan.Candidates {
		switch c.Name {
		case "bo_chan":
			assert.Equal(t, "2025-01-10-001", c.BatchLabel)
			assert.Empty(t, c.ResumePaths)
		case "cy_dorn":
			assert.Equal(t, "flat-a", c.BatchLabel)
		case "john_roe":
			assert.Empty(t, c.BatchLabel)
		}
	}
}

func TestScan_ExcludePatterns(t *testing.T) {
	root, _ := scenarioTree(t)
	writeTree(t, root, map[string]string{
		"clients/acme/requisitions/REQ-1/resumes/processed/scratch_resume.txt.bak": "x",
		"clients/tmp-client/client_info.yaml":                                      "client_code: tmp-client\n",
	})
	a, err := New(root, []string{"tmp-*", "**/*.bak"})
	require.NoError(t, err)
	inv, err := a.Scan(context.Background(), ports.Scope{})
	require.NoError(t, err)
	assert.Len(t, inv.Clients, 1)
	assert.Len(t, inv.Candidates, 2)
}

func TestReadClient(t *testing.T) {
	root, a := scenarioTree(t)
	ctx := context.Background()

	c, found, err := a.ReadClient(ctx, "acme")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Acme Corp", c.CompanyName)

	_, found, err = a.ReadClient(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, found, "absence is a result, not an error")

	writeTree(t, root, map[string]string{"clients/broken/client_info.yaml": "status: [\n"})
	_, _, err = a.ReadClient(ctx, "broken")
	require.Error(t, err)
	assert.True(t, errors.IsParse(err))
	p, _ := errors.ContextValue(err, errors.CtxPath)
	assert.Equal(t, "clients/broken/client_info.yaml", p)
}

func TestReadRequisition_IndexRefreshesOnMiss(t *testing.T) {
	root, a := scenarioTree(t)
	ctx := context.Background()

	_, found, err := a.ReadRequisition(ctx, "REQ-2")
	require.NoError(t, err)
	assert.False(t, found)

	writeTree(t, root, map[string]string{
		"clients/acme/requisitions/REQ-2/requisition.yaml": "requisition_id: REQ-2\nstatus: on_hold\n",
	})
	r, found, err := a.ReadRequisition(ctx, "REQ-2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "acme", r.ClientCode)
	assert.Equal(t, entity.RequisitionOnHold, r.Status)
	assert.Equal(t, entity.DefaultThresholds, r.Thresholds)
}

func TestReadDispatch(t *testing.T) {
	_, a := scenarioTree(t)
	ctx := context.Background()

	e, found, err := a.Read(ctx, entity.CandidateKey("REQ-1", "jane_doe"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entity.CandidateAssessed, e.(entity.Candidate).Status)

	_, found, err = a.Read(ctx, entity.AssessmentKey("REQ-1", "john_roe"))
	require.NoError(t, err)
	assert.False(t, found)

	owner, err := a.OwnerOf(ctx, entity.CandidateKey("REQ-1", "john_roe"))
	require.NoError(t, err)
	assert.Equal(t, ports.Owner{ClientCode: "acme", ReqID: "REQ-1"}, owner)
}
