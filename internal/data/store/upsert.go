package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
)

// rowState is what an upsert needs to know about the existing row for a natural key.
type rowState struct {
	id       int64
	hash     string
	archived bool
	exists   bool
}

func (r rowState) current(hash string) bool {
	return r.exists && !r.archived && r.hash == hash
}

func lookupRow(ctx context.Context, tx *sql.Tx, query string, args ...any) (rowState, error) {
	var (
		st       rowState
		archived sql.NullString
	)
	err := tx.QueryRowContext(ctx, query, args...).Scan(&st.id, &st.hash, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return rowState{}, nil
	}
	if err != nil {
		return rowState{}, err
	}
	st.exists = true
	st.archived = archived.Valid
	return st, nil
}

// parentID resolves an active parent row or fails with an integrity error.
func parentID(ctx context.Context, tx *sql.Tx, kind entity.Kind, key string, query string, args ...any) (int64, error) {
	st, err := lookupRow(ctx, tx, query, args...)
	if err != nil {
		return 0, err
	}
	if !st.exists || st.archived {
		return 0, errors.Integrity(string(kind), key, fmt.Errorf("parent %s %q does not exist", kind, args[len(args)-1]))
	}
	return st.id, nil
}

const (
	clientRowQuery      = `SELECT id, content_hash, archived_at FROM clients WHERE client_code = ?`
	requisitionRowQuery = `SELECT id, content_hash, archived_at FROM requisitions WHERE req_id = ?`
	candidateRowQuery   = `SELECT id, content_hash, archived_at FROM candidates WHERE requisition_id = ? AND name_normalized = ?`
	batchRowQuery       = `SELECT id, content_hash, archived_at FROM batches WHERE requisition_id = ? AND name = ?`
	assessmentRowQuery  = `SELECT id, content_hash, archived_at FROM assessments WHERE candidate_id = ?`
)

// Upsert dispatches to the kind-specific upsert.
func (s *Store) Upsert(ctx context.Context, e entity.Entity) (ports.UpsertResult, error) {
	switch v := e.(type) {
	case entity.Client:
		return s.UpsertClient(ctx, v)
	case entity.Requisition:
		return s.UpsertRequisition(ctx, v)
	case entity.Candidate:
		return s.UpsertCandidate(ctx, v)
	case entity.Assessment:
		return s.UpsertAssessment(ctx, v)
	case entity.Batch:
		return s.UpsertBatch(ctx, v)
	case nil:
		return ports.UpsertResult{}, errors.New(errors.CodeValidationError, "nil entity")
	}
	return ports.UpsertResult{}, errors.New(errors.CodeNotSupported, fmt.Sprintf("unsupported entity type %T", e))
}

func validate(e entity.Entity) error {
	if err := e.Validate(); err != nil {
		err = errors.Wrap(err, errors.CodeValidationError, "invalid "+string(e.EntityKind()))
		return errors.AddContext(err, errors.CtxKey, e.NaturalKey().String())
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, e entity.Entity, fn func(tx *sql.Tx, now string) (ports.UpsertResult, error)) (ports.UpsertResult, error) {
	if err := validate(e); err != nil {
		return ports.UpsertResult{}, err
	}
	op := "upsert " + string(e.EntityKind())
	var res ports.UpsertResult
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		res, err = fn(tx, s.timestamp())
		return err
	})
	if err != nil {
		return ports.UpsertResult{}, s.classify(op, e.EntityKind(), e.NaturalKey().String(), err)
	}
	return res, nil
}

func (s *Store) UpsertClient(ctx context.Context, c entity.Client) (ports.UpsertResult, error) {
	return s.upsert(ctx, c, func(tx *sql.Tx, now string) (ports.UpsertResult, error) {
		return upsertClientTx(ctx, tx, c, now)
	})
}

func upsertClientTx(ctx context.Context, tx *sql.Tx, c entity.Client, now string) (ports.UpsertResult, error) {
	hash := c.ContentHash()
	prev, err := lookupRow(ctx, tx, clientRowQuery, c.Code)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	if prev.current(hash) {
		return ports.UpsertResult{ID: prev.id}, nil
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO clients (client_code, company_name, industry, status, billing, preferences, content_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(client_code) DO UPDATE SET
  company_name=excluded.company_name,
  industry=excluded.industry,
  status=excluded.status,
  billing=excluded.billing,
  preferences=excluded.preferences,
  content_hash=excluded.content_hash,
  updated_at=excluded.updated_at,
  archived_at=NULL
RETURNING id
`, c.Code, c.CompanyName, c.Industry, string(c.Status), nullableBlob(c.Billing), nullableBlob(c.Preferences), hash, now, now).Scan(&id)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	return ports.UpsertResult{ID: id, Changed: true, Created: !prev.exists}, nil
}

func (s *Store) UpsertRequisition(ctx context.Context, r entity.Requisition) (ports.UpsertResult, error) {
	return s.upsert(ctx, r, func(tx *sql.Tx, now string) (ports.UpsertResult, error) {
		return upsertRequisitionTx(ctx, tx, r, now)
	})
}

func upsertRequisitionTx(ctx context.Context, tx *sql.Tx, r entity.Requisition, now string) (ports.UpsertResult, error) {
	key := r.ID
	clientID, err := parentID(ctx, tx, entity.KindRequisition, key, clientRowQuery, r.ClientCode)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	hash := r.ContentHash()
	prev, err := lookupRow(ctx, tx, requisitionRowQuery, r.ID)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	if prev.current(hash) {
		return ports.UpsertResult{ID: prev.id}, nil
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO requisitions (
  req_id, client_id, title, salary_min, salary_max, salary_currency, status,
  threshold_strong, threshold_recommend, threshold_conditional, weight_overrides, special_requirements,
  content_hash, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(req_id) DO UPDATE SET
  client_id=excluded.client_id,
  title=excluded.title,
  salary_min=excluded.salary_min,
  salary_max=excluded.salary_max,
  salary_currency=excluded.salary_currency,
  status=excluded.status,
  threshold_strong=excluded.threshold_strong,
  threshold_recommend=excluded.threshold_recommend,
  threshold_conditional=excluded.threshold_conditional,
  weight_overrides=excluded.weight_overrides,
  special_requirements=excluded.special_requirements,
  content_hash=excluded.content_hash,
  updated_at=excluded.updated_at,
  archived_at=NULL
RETURNING id
`,
		r.ID, clientID, r.Title, r.Salary.Min, r.Salary.Max, r.Salary.Currency, string(r.Status),
		r.Thresholds.StrongRecommend, r.Thresholds.Recommend, r.Thresholds.Conditional,
		nullableBlob(r.WeightOverrides), nullableBlob(r.SpecialRequirements),
		hash, now, now,
	).Scan(&id)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	return ports.UpsertResult{ID: id, Changed: true, Created: !prev.exists}, nil
}

// UpsertCandidate stores a candidate. Status is derived from the presence of an active
// assessment row, so the stored hash can differ from the caller's until the assessment lands.
func (s *Store) UpsertCandidate(ctx context.Context, c entity.Candidate) (ports.UpsertResult, error) {
	return s.upsert(ctx, c, func(tx *sql.Tx, now string) (ports.UpsertResult, error) {
		return upsertCandidateTx(ctx, tx, c, now)
	})
}

func upsertCandidateTx(ctx context.Context, tx *sql.Tx, c entity.Candidate, now string) (ports.UpsertResult, error) {
	key := c.NaturalKey().String()
	reqID, err := parentID(ctx, tx, entity.KindCandidate, key, requisitionRowQuery, c.ReqID)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	prev, err := lookupRow(ctx, tx, candidateRowQuery, reqID, c.Name)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	c.Status = entity.CandidatePending
	if prev.exists {
		assessed, err := hasActiveAssessment(ctx, tx, prev.id)
		if err != nil {
			return ports.UpsertResult{}, err
		}
		if assessed {
			c.Status = entity.CandidateAssessed
		}
	}
	c.ResumePaths = nonNilStrings(c.ResumePaths)
	hash := c.ContentHash()
	if prev.current(hash) {
		return ports.UpsertResult{ID: prev.id}, nil
	}
	paths, err := json.Marshal(c.ResumePaths)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO candidates (
  requisition_id, name_normalized, display_name, email, source_platform, batch_label, resume_paths,
  status, content_hash, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(requisition_id, name_normalized) DO UPDATE SET
  display_name=excluded.display_name,
  email=excluded.email,
  source_platform=excluded.source_platform,
  batch_label=excluded.batch_label,
  resume_paths=excluded.resume_paths,
  status=excluded.status,
  content_hash=excluded.content_hash,
  updated_at=excluded.updated_at,
  archived_at=NULL
RETURNING id
`, reqID, c.Name, c.DisplayName, c.Email, c.SourcePlatform, c.BatchLabel, string(paths), string(c.Status), hash, now, now).Scan(&id)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	return ports.UpsertResult{ID: id, Changed: true, Created: !prev.exists}, nil
}

func hasActiveAssessment(ctx context.Context, tx *sql.Tx, candidateID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assessments WHERE candidate_id = ? AND archived_at IS NULL`, candidateID).Scan(&n)
	return n > 0, err
}

// UpsertAssessment stores an assessment and moves its candidate to assessed in the
// same transaction. The candidate row must already exist.
func (s *Store) UpsertAssessment(ctx context.Context, a entity.Assessment) (ports.UpsertResult, error) {
	return s.upsert(ctx, a, func(tx *sql.Tx, now string) (ports.UpsertResult, error) {
		return upsertAssessmentTx(ctx, tx, a, now)
	})
}

func upsertAssessmentTx(ctx context.Context, tx *sql.Tx, a entity.Assessment, now string) (ports.UpsertResult, error) {
	key := a.NaturalKey().String()
	reqID, err := parentID(ctx, tx, entity.KindAssessment, key, requisitionRowQuery, a.ReqID)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	candID, err := parentID(ctx, tx, entity.KindAssessment, key, candidateRowQuery, reqID, a.CandidateName)
	if err != nil {
		return ports.UpsertResult{}, err
	}

	hash := a.ContentHash()
	prev, err := lookupRow(ctx, tx, assessmentRowQuery, candID)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	res := ports.UpsertResult{ID: prev.id}
	if !prev.current(hash) {
		strengths, concerns, focus, err := narrativeLists(a)
		if err != nil {
			return ports.UpsertResult{}, err
		}
		var id int64
		err = tx.QueryRowContext(ctx, `
INSERT INTO assessments (
  candidate_id, requisition_id, total_score, max_score, percentage, recommendation, mode, assessed_at,
  scores, summary, key_strengths, areas_of_concern, interview_focus_areas, content_hash, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(candidate_id) DO UPDATE SET
  total_score=excluded.total_score,
  max_score=excluded.max_score,
  percentage=excluded.percentage,
  recommendation=excluded.recommendation,
  mode=excluded.mode,
  assessed_at=excluded.assessed_at,
  scores=excluded.scores,
  summary=excluded.summary,
  key_strengths=excluded.key_strengths,
  areas_of_concern=excluded.areas_of_concern,
  interview_focus_areas=excluded.interview_focus_areas,
  content_hash=excluded.content_hash,
  updated_at=excluded.updated_at,
  archived_at=NULL
RETURNING id
`,
			candID, reqID, a.TotalScore, a.MaxScore, a.Percentage, string(a.Recommendation), string(a.Mode), a.AssessedAt,
			nullableBlob(a.Scores), a.Summary, strengths, concerns, focus, hash, now, now,
		).Scan(&id)
		if err != nil {
			return ports.UpsertResult{}, err
		}
		res = ports.UpsertResult{ID: id, Changed: true, Created: !prev.exists}
	}

	if err := setCandidateStatus(ctx, tx, candID, entity.CandidateAssessed, now); err != nil {
		return ports.UpsertResult{}, err
	}
	return res, nil
}

func narrativeLists(a entity.Assessment) (string, string, string, error) {
	var out [3]string
	for i, list := range [][]string{a.KeyStrengths, a.AreasOfConcern, a.InterviewFocusAreas} {
		raw, err := json.Marshal(nonNilStrings(list))
		if err != nil {
			return "", "", "", err
		}
		out[i] = string(raw)
	}
	return out[0], out[1], out[2], nil
}

// setCandidateStatus rewrites a candidate's status and content hash. It writes nothing
// when the row already carries both.
func setCandidateStatus(ctx context.Context, tx *sql.Tx, candidateID int64, status entity.CandidateStatus, now string) error {
	c, err := scanCandidate(tx.QueryRowContext(ctx, candidateSelect+` WHERE cand.id = ?`, candidateID))
	if err != nil {
		return err
	}
	c.Status = status
	_, err = tx.ExecContext(ctx, `
UPDATE candidates SET status = ?, content_hash = ?, updated_at = ?
WHERE id = ? AND (status <> ? OR content_hash <> ?)
`, string(status), c.ContentHash(), now, candidateID, string(status), c.ContentHash())
	return err
}

func (s *Store) UpsertBatch(ctx context.Context, b entity.Batch) (ports.UpsertResult, error) {
	return s.upsert(ctx, b, func(tx *sql.Tx, now string) (ports.UpsertResult, error) {
		return upsertBatchTx(ctx, tx, b, now)
	})
}

func upsertBatchTx(ctx context.Context, tx *sql.Tx, b entity.Batch, now string) (ports.UpsertResult, error) {
	key := b.NaturalKey().String()
	reqID, err := parentID(ctx, tx, entity.KindBatch, key, requisitionRowQuery, b.ReqID)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	hash := b.ContentHash()
	prev, err := lookupRow(ctx, tx, batchRowQuery, reqID, b.Name)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	if prev.current(hash) {
		return ports.UpsertResult{ID: prev.id}, nil
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO batches (requisition_id, name, kind, candidate_count, manifest_path, content_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(requisition_id, name) DO UPDATE SET
  kind=excluded.kind,
  candidate_count=excluded.candidate_count,
  manifest_path=excluded.manifest_path,
  content_hash=excluded.content_hash,
  updated_at=excluded.updated_at,
  archived_at=NULL
RETURNING id
`, reqID, b.Name, string(b.Kind), b.CandidateCount, b.ManifestPath, hash, now, now).Scan(&id)
	if err != nil {
		return ports.UpsertResult{}, err
	}
	return ports.UpsertResult{ID: id, Changed: true, Created: !prev.exists}, nil
}

// UpsertCandidateWithAssessment writes both rows in one transaction. Either both land or neither.
func (s *Store) UpsertCandidateWithAssessment(ctx context.Context, c entity.Candidate, a entity.Assessment) (ports.UpsertResult, ports.UpsertResult, error) {
	if err := validate(c); err != nil {
		return ports.UpsertResult{}, ports.UpsertResult{}, err
	}
	if err := validate(a); err != nil {
		return ports.UpsertResult{}, ports.UpsertResult{}, err
	}
	if a.CandidateKey() != c.NaturalKey() {
		err := errors.New(errors.CodeValidationError, fmt.Sprintf("assessment %s does not belong to candidate %s", a.NaturalKey(), c.NaturalKey()))
		return ports.UpsertResult{}, ports.UpsertResult{}, err
	}
	const op = "upsert candidate with assessment"
	var cres, ares ports.UpsertResult
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		now := s.timestamp()
		var err error
		if cres, err = upsertCandidateTx(ctx, tx, c, now); err != nil {
			return err
		}
		ares, err = upsertAssessmentTx(ctx, tx, a, now)
		return err
	})
	if err != nil {
		return ports.UpsertResult{}, ports.UpsertResult{}, s.classify(op, entity.KindCandidate, c.NaturalKey().String(), err)
	}
	return cres, ares, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
