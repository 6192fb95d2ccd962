package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	clientSelect = `
SELECT c.client_code, c.company_name, c.industry, c.status, c.billing, c.preferences
FROM clients c`

	requisitionSelect = `
SELECT r.req_id, c.client_code, r.title, r.salary_min, r.salary_max, r.salary_currency, r.status,
  r.threshold_strong, r.threshold_recommend, r.threshold_conditional, r.weight_overrides, r.special_requirements
FROM requisitions r
JOIN clients c ON c.id = r.client_id`

	candidateSelect = `
SELECT r.req_id, cand.name_normalized, cand.display_name, cand.email, cand.source_platform,
  cand.batch_label, cand.resume_paths, cand.status
FROM candidates cand
JOIN requisitions r ON r.id = cand.requisition_id`

	assessmentSelect = `
SELECT r.req_id, cand.name_normalized, a.total_score, a.max_score, a.percentage, a.recommendation, a.mode,
  a.assessed_at, a.scores, a.summary, a.key_strengths, a.areas_of_concern, a.interview_focus_areas
FROM assessments a
JOIN candidates cand ON cand.id = a.candidate_id
JOIN requisitions r ON r.id = a.requisition_id`

	batchSelect = `
SELECT r.req_id, b.name, b.kind, b.candidate_count, b.manifest_path
FROM batches b
JOIN requisitions r ON r.id = b.requisition_id`
)

func scanClient(row rowScanner) (entity.Client, error) {
	var (
		c                    entity.Client
		status               string
		billing, preferences sql.NullString
	)
	if err := row.Scan(&c.Code, &c.CompanyName, &c.Industry, &status, &billing, &preferences); err != nil {
		return entity.Client{}, err
	}
	c.Status = entity.ClientStatus(status)
	c.Billing = blobFrom(billing)
	c.Preferences = blobFrom(preferences)
	return c, nil
}

func scanRequisition(row rowScanner) (entity.Requisition, error) {
	var (
		r                    entity.Requisition
		status               string
		weights, requirement sql.NullString
	)
	err := row.Scan(&r.ID, &r.ClientCode, &r.Title, &r.Salary.Min, &r.Salary.Max, &r.Salary.Currency, &status,
		&r.Thresholds.StrongRecommend, &r.Thresholds.Recommend, &r.Thresholds.Conditional, &weights, &requirement)
	if err != nil {
		return entity.Requisition{}, err
	}
	r.Status = entity.RequisitionStatus(status)
	r.WeightOverrides = blobFrom(weights)
	r.SpecialRequirements = blobFrom(requirement)
	return r, nil
}

func scanCandidate(row rowScanner) (entity.Candidate, error) {
	var (
		c             entity.Candidate
		paths, status string
	)
	if err := row.Scan(&c.ReqID, &c.Name, &c.DisplayName, &c.Email, &c.SourcePlatform, &c.BatchLabel, &paths, &status); err != nil {
		return entity.Candidate{}, err
	}
	c.Status = entity.CandidateStatus(status)
	if err := json.Unmarshal([]byte(paths), &c.ResumePaths); err != nil {
		return entity.Candidate{}, fmt.Errorf("decode resume paths of %s: %w", c.NaturalKey(), err)
	}
	return c, nil
}

func scanAssessment(row rowScanner) (entity.Assessment, error) {
	var (
		a                          entity.Assessment
		recommendation, mode       string
		scores                     sql.NullString
		strengths, concerns, focus string
	)
	err := row.Scan(&a.ReqID, &a.CandidateName, &a.TotalScore, &a.MaxScore, &a.Percentage, &recommendation, &mode,
		&a.AssessedAt, &scores, &a.Summary, &strengths, &concerns, &focus)
	if err != nil {
		return entity.Assessment{}, err
	}
	a.Recommendation = entity.Recommendation(recommendation)
	a.Mode = entity.AssessmentMode(mode)
	a.Scores = blobFrom(scores)
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{strengths, &a.KeyStrengths}, {concerns, &a.AreasOfConcern}, {focus, &a.InterviewFocusAreas}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return entity.Assessment{}, fmt.Errorf("decode narrative of %s: %w", a.NaturalKey(), err)
		}
	}
	return a, nil
}

func scanBatch(row rowScanner) (entity.Batch, error) {
	var (
		b    entity.Batch
		kind string
	)
	if err := row.Scan(&b.ReqID, &b.Name, &kind, &b.CandidateCount, &b.ManifestPath); err != nil {
		return entity.Batch{}, err
	}
	b.Kind = entity.BatchKind(kind)
	return b, nil
}

// getOne runs a single-row query and turns sql.ErrNoRows into NotFound.
func getOne[T any](s *Store, ctx context.Context, key entity.Key, query string, scan func(rowScanner) (T, error), args ...any) (T, error) {
	var out T
	op := "get " + string(key.Kind)
	err := s.withRetry(op, func() error {
		v, err := scan(s.db.QueryRowContext(ctx, query, args...))
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return out, errors.NotFound(string(key.Kind), key.String())
	}
	return out, s.classify(op, key.Kind, key.String(), err)
}

func listAll[T any](s *Store, ctx context.Context, op string, query string, scan func(rowScanner) (T, error), args ...any) ([]T, error) {
	var out []T
	err := s.withRetry(op, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, s.classify(op, "", "", err)
	}
	return out, nil
}

// Get dispatches on the key kind. Archived rows are not returned.
func (s *Store) Get(ctx context.Context, key entity.Key) (entity.Entity, error) {
	if err := key.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "invalid key")
	}
	switch key.Kind {
	case entity.KindClient:
		return s.GetClient(ctx, key.ClientCode)
	case entity.KindRequisition:
		return s.GetRequisition(ctx, key.ReqID)
	case entity.KindCandidate:
		return s.GetCandidate(ctx, key)
	case entity.KindAssessment:
		return s.GetAssessment(ctx, key)
	case entity.KindBatch:
		return s.GetBatch(ctx, key)
	}
	return nil, errors.New(errors.CodeNotSupported, fmt.Sprintf("unsupported kind %q", key.Kind))
}

func (s *Store) GetClient(ctx context.Context, code string) (entity.Client, error) {
	return getOne(s, ctx, entity.ClientKey(code),
		clientSelect+` WHERE c.client_code = ? AND c.archived_at IS NULL`, scanClient, code)
}

func (s *Store) GetRequisition(ctx context.Context, reqID string) (entity.Requisition, error) {
	return getOne(s, ctx, entity.RequisitionKey(reqID),
		requisitionSelect+` WHERE r.req_id = ? AND r.archived_at IS NULL`, scanRequisition, reqID)
}

func (s *Store) GetCandidate(ctx context.Context, key entity.Key) (entity.Candidate, error) {
	return getOne(s, ctx, key,
		candidateSelect+` WHERE r.req_id = ? AND cand.name_normalized = ? AND cand.archived_at IS NULL`,
		scanCandidate, key.ReqID, key.Name)
}

func (s *Store) GetAssessment(ctx context.Context, key entity.Key) (entity.Assessment, error) {
	return getOne(s, ctx, key,
		assessmentSelect+` WHERE r.req_id = ? AND cand.name_normalized = ? AND a.archived_at IS NULL`,
		scanAssessment, key.ReqID, key.Name)
}

func (s *Store) GetBatch(ctx context.Context, key entity.Key) (entity.Batch, error) {
	return getOne(s, ctx, key,
		batchSelect+` WHERE r.req_id = ? AND b.name = ? AND b.archived_at IS NULL`,
		scanBatch, key.ReqID, key.Name)
}

func (s *Store) ListClients(ctx context.Context) ([]entity.Client, error) {
	return listAll(s, ctx, "list clients",
		clientSelect+` WHERE c.archived_at IS NULL ORDER BY c.client_code`, scanClient)
}

func (s *Store) ListRequisitions(ctx context.Context, clientCode string) ([]entity.Requisition, error) {
	return listAll(s, ctx, "list requisitions",
		requisitionSelect+` WHERE c.client_code = ? AND r.archived_at IS NULL ORDER BY r.req_id`, scanRequisition, clientCode)
}

func (s *Store) ListCandidates(ctx context.Context, reqID string) ([]entity.Candidate, error) {
	return listAll(s, ctx, "list candidates",
		candidateSelect+` WHERE r.req_id = ? AND cand.archived_at IS NULL ORDER BY cand.name_normalized`, scanCandidate, reqID)
}

func (s *Store) ListBatches(ctx context.Context, reqID string) ([]entity.Batch, error) {
	return listAll(s, ctx, "list batches",
		batchSelect+` WHERE r.req_id = ? AND b.archived_at IS NULL ORDER BY b.name`, scanBatch, reqID)
}
