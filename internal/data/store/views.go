package store

import (
	"context"
	"database/sql"
	"raafstore/internal/core/entity"
	"strings"
)

type DashboardRow struct {
	ClientCode        string  `json:"client_code"`
	CompanyName       string  `json:"company_name"`
	ClientStatus      string  `json:"client_status"`
	ReqID             string  `json:"req_id,omitempty"`
	Title             string  `json:"title,omitempty"`
	RequisitionStatus string  `json:"requisition_status,omitempty"`
	Candidates        int     `json:"candidates"`
	Assessed          int     `json:"assessed"`
	Pending           int     `json:"pending"`
	Recommended       int     `json:"recommended"`
	AvgPercentage     float64 `json:"avg_percentage"`
}

// Dashboard returns per-requisition pipeline counts. An empty clientCode covers all clients.
func (s *Store) Dashboard(ctx context.Context, clientCode string) ([]DashboardRow, error) {
	query := `
SELECT client_code, company_name, client_status, req_id, title, requisition_status,
  candidate_count, assessed_count, pending_count, recommended_count, avg_percentage
FROM dashboard_projection`
	var args []any
	if clientCode != "" {
		query += ` WHERE client_code = ?`
		args = append(args, clientCode)
	}
	query += ` ORDER BY client_code, req_id`
	return listAll(s, ctx, "dashboard", query, func(row rowScanner) (DashboardRow, error) {
		var (
			d                   DashboardRow
			reqID, title, rstat sql.NullString
			avg                 sql.NullFloat64
		)
		err := row.Scan(&d.ClientCode, &d.CompanyName, &d.ClientStatus, &reqID, &title, &rstat,
			&d.Candidates, &d.Assessed, &d.Pending, &d.Recommended, &avg)
		d.ReqID, d.Title, d.RequisitionStatus = reqID.String, title.String, rstat.String
		d.AvgPercentage = avg.Float64
		return d, err
	}, args...)
}

type SearchQuery struct {
	ClientCode     string
	ReqID          string
	Status         entity.CandidateStatus
	Recommendation entity.Recommendation
	MinPercentage  float64
	// Text matches display name, normalized name or email.
	Text  string
	Limit int
}

type SearchRow struct {
	ClientCode     string                 `json:"client_code"`
	ReqID          string                 `json:"req_id"`
	Title          string                 `json:"title"`
	Name           string                 `json:"name"`
	DisplayName    string                 `json:"display_name"`
	Email          string                 `json:"email,omitempty"`
	SourcePlatform string                 `json:"source_platform,omitempty"`
	BatchLabel     string                 `json:"batch_label,omitempty"`
	Status         entity.CandidateStatus `json:"status"`
	Percentage     *float64               `json:"percentage,omitempty"`
	Recommendation entity.Recommendation  `json:"recommendation,omitempty"`
	Mode           entity.AssessmentMode  `json:"mode,omitempty"`
	Summary        string                 `json:"summary,omitempty"`
	Snippet        string                 `json:"snippet,omitempty"`
}

const searchColumns = `sp.client_code, sp.req_id, sp.title, sp.name_normalized, sp.display_name, sp.email,
  sp.source_platform, sp.batch_label, sp.candidate_status, sp.percentage, sp.recommendation, sp.mode, sp.summary`

func scanSearchRow(row rowScanner, extra ...any) (SearchRow, error) {
	var (
		r                             SearchRow
		status                        string
		pct                           sql.NullFloat64
		recommendation, mode, summary sql.NullString
	)
	dest := []any{&r.ClientCode, &r.ReqID, &r.Title, &r.Name, &r.DisplayName, &r.Email,
		&r.SourcePlatform, &r.BatchLabel, &status, &pct, &recommendation, &mode, &summary}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return SearchRow{}, err
	}
	r.Status = entity.CandidateStatus(status)
	if pct.Valid {
		v := pct.Float64
		r.Percentage = &v
	}
	r.Recommendation = entity.Recommendation(recommendation.String)
	r.Mode = entity.AssessmentMode(mode.String)
	r.Summary = summary.String
	return r, nil
}

// Search filters the candidate projection. Rows are ordered by percentage, best first.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]SearchRow, error) {
	var (
		where []string
		args  []any
	)
	if q.ClientCode != "" {
		where = append(where, `sp.client_code = ?`)
		args = append(args, q.ClientCode)
	}
	if q.ReqID != "" {
		where = append(where, `sp.req_id = ?`)
		args = append(args, q.ReqID)
	}
	if q.Status != "" {
		where = append(where, `sp.candidate_status = ?`)
		args = append(args, string(q.Status))
	}
	if q.Recommendation != "" {
		where = append(where, `sp.recommendation = ?`)
		args = append(args, string(q.Recommendation))
	}
	if q.MinPercentage > 0 {
		where = append(where, `sp.percentage >= ?`)
		args = append(args, q.MinPercentage)
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		like := "%" + strings.ToLower(text) + "%"
		where = append(where, `(lower(sp.display_name) LIKE ? OR sp.name_normalized LIKE ? OR lower(sp.email) LIKE ?)`)
		args = append(args, like, like, like)
	}

	query := `SELECT ` + searchColumns + ` FROM search_projection sp`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY sp.percentage IS NULL, sp.percentage DESC, sp.req_id, sp.name_normalized`
	query += ` LIMIT ?`
	args = append(args, limitOrDefault(q.Limit))

	return listAll(s, ctx, "search", query, func(row rowScanner) (SearchRow, error) {
		return scanSearchRow(row)
	}, args...)
}

// SearchNarrative runs a full-text query over assessment narratives. Every term must
// match; terms are quoted so FTS5 operators in user input are taken literally.
func (s *Store) SearchNarrative(ctx context.Context, text string, limit int) ([]SearchRow, error) {
	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}
	query := `
SELECT ` + searchColumns + `, snippet(assessment_fts, -1, '[', ']', '...', 12)
FROM assessment_fts
JOIN search_projection sp ON sp.candidate_id = assessment_fts.rowid
JOIN assessments a ON a.candidate_id = assessment_fts.rowid AND a.archived_at IS NULL
WHERE assessment_fts MATCH ?
ORDER BY bm25(assessment_fts), sp.req_id, sp.name_normalized
LIMIT ?`
	return listAll(s, ctx, "search narrative", query, func(row rowScanner) (SearchRow, error) {
		var snippet string
		r, err := scanSearchRow(row, &snippet)
		r.Snippet = snippet
		return r, err
	}, match, limitOrDefault(limit))
}

func ftsQuery(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
