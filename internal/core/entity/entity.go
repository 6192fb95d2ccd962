package entity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Entity is implemented by the five record kinds.
type Entity interface {
	EntityKind() Kind
	NaturalKey() Key
	// ContentHash fingerprints the attributes shared by both stores.
	ContentHash() string
	Validate() error
}

type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
	ClientProspect ClientStatus = "prospect"
)

type RequisitionStatus string

const (
	RequisitionActive    RequisitionStatus = "active"
	RequisitionOnHold    RequisitionStatus = "on_hold"
	RequisitionFilled    RequisitionStatus = "filled"
	RequisitionCancelled RequisitionStatus = "cancelled"
)

type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateAssessed CandidateStatus = "assessed"
)

// Recommendation is empty while an assessment is still undetermined.
type Recommendation string

const (
	RecommendUndetermined Recommendation = ""
	RecommendStrong       Recommendation = "strong_recommend"
	Recommend             Recommendation = "recommend"
	RecommendConditional  Recommendation = "conditional"
	RecommendDoNot        Recommendation = "do_not_recommend"
)

type AssessmentMode string

const (
	ModeAI      AssessmentMode = "ai"
	ModeManual  AssessmentMode = "manual"
	ModePending AssessmentMode = "pending"
)

type BatchKind string

const (
	BatchFlat   BatchKind = "flat"
	BatchNested BatchKind = "nested"
)

type Client struct {
	Code        string          `json:"client_code"`
	CompanyName string          `json:"company_name"`
	Industry    string          `json:"industry"`
	Status      ClientStatus    `json:"status"`
	Billing     json.RawMessage `json:"billing,omitempty"`
	Preferences json.RawMessage `json:"preferences,omitempty"`
}

type SalaryBand struct {
	Min      int64  `json:"min"`
	Max      int64  `json:"max"`
	Currency string `json:"currency"`
}

type Thresholds struct {
	StrongRecommend float64 `json:"strong_recommend"`
	Recommend       float64 `json:"recommend"`
	Conditional     float64 `json:"conditional"`
}

// DefaultThresholds apply when a requisition document does not set its own.
var DefaultThresholds = Thresholds{StrongRecommend: 85, Recommend: 70, Conditional: 55}

type Requisition struct {
	ID                  string            `json:"req_id"`
	ClientCode          string            `json:"client_code"`
	Title               string            `json:"title"`
	Salary              SalaryBand        `json:"salary"`
	Status              RequisitionStatus `json:"status"`
	Thresholds          Thresholds        `json:"thresholds"`
	WeightOverrides     json.RawMessage   `json:"weight_overrides,omitempty"`
	SpecialRequirements json.RawMessage   `json:"special_requirements,omitempty"`
}

type Candidate struct {
	ReqID          string          `json:"req_id"`
	Name           string          `json:"name_normalized"`
	DisplayName    string          `json:"display_name"`
	Email          string          `json:"email"`
	SourcePlatform string          `json:"source_platform"`
	BatchLabel     string          `json:"batch_label"`
	ResumePaths    []string        `json:"resume_paths"`
	Status         CandidateStatus `json:"status"`
}

type Assessment struct {
	ReqID               string          `json:"req_id"`
	CandidateName       string          `json:"candidate_name"`
	TotalScore          float64         `json:"total_score"`
	MaxScore            float64         `json:"max_score"`
	Percentage          float64         `json:"percentage"`
	Recommendation      Recommendation  `json:"recommendation"`
	Mode                AssessmentMode  `json:"mode"`
	AssessedAt          string          `json:"assessed_at"`
	Scores              json.RawMessage `json:"scores,omitempty"`
	Summary             string          `json:"summary"`
	KeyStrengths        []string        `json:"key_strengths"`
	AreasOfConcern      []string        `json:"areas_of_concern"`
	InterviewFocusAreas []string        `json:"interview_focus_areas"`
}

type Batch struct {
	ReqID          string    `json:"req_id"`
	Name           string    `json:"name"`
	Kind           BatchKind `json:"kind"`
	CandidateCount int       `json:"candidate_count"`
	ManifestPath   string    `json:"manifest_path"`
}

func (c Client) EntityKind() Kind      { return KindClient }
func (r Requisition) EntityKind() Kind { return KindRequisition }
func (c Candidate) EntityKind() Kind   { return KindCandidate }
func (a Assessment) EntityKind() Kind  { return KindAssessment }
func (b Batch) EntityKind() Kind       { return KindBatch }

func (c Client) NaturalKey() Key      { return ClientKey(c.Code) }
func (r Requisition) NaturalKey() Key { return RequisitionKey(r.ID) }
func (c Candidate) NaturalKey() Key   { return CandidateKey(c.ReqID, c.Name) }
func (a Assessment) NaturalKey() Key  { return AssessmentKey(a.ReqID, a.CandidateName) }
func (b Batch) NaturalKey() Key       { return BatchKey(b.ReqID, b.Name) }

// CandidateKey returns the key of the candidate the assessment belongs to.
func (a Assessment) CandidateKey() Key { return CandidateKey(a.ReqID, a.CandidateName) }

func (c Client) ContentHash() string {
	c.Billing = canonicalOrNil(c.Billing)
	c.Preferences = canonicalOrNil(c.Preferences)
	return hashOf(c)
}

func (r Requisition) ContentHash() string {
	r.WeightOverrides = canonicalOrNil(r.WeightOverrides)
	r.SpecialRequirements = canonicalOrNil(r.SpecialRequirements)
	return hashOf(r)
}

func (c Candidate) ContentHash() string {
	c.ResumePaths = nonNil(c.ResumePaths)
	return hashOf(c)
}

func (a Assessment) ContentHash() string {
	a.Scores = canonicalOrNil(a.Scores)
	a.KeyStrengths = nonNil(a.KeyStrengths)
	a.AreasOfConcern = nonNil(a.AreasOfConcern)
	a.InterviewFocusAreas = nonNil(a.InterviewFocusAreas)
	return hashOf(a)
}

func (b Batch) ContentHash() string {
	return hashOf(b)
}

func (c Client) Validate() error {
	if err := c.NaturalKey().Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	switch c.Status {
	case ClientActive, ClientInactive, ClientProspect:
	default:
		return fmt.Errorf("client %s: invalid status %q", c.Code, c.Status)
	}
	return validateBlobs("client "+c.Code, c.Billing, c.Preferences)
}

func (r Requisition) Validate() error {
	if err := r.NaturalKey().Validate(); err != nil {
		return fmt.Errorf("requisition: %w", err)
	}
	if err := ClientKey(r.ClientCode).Validate(); err != nil {
		return fmt.Errorf("requisition %s: %w", r.ID, err)
	}
	switch r.Status {
	case RequisitionActive, RequisitionOnHold, RequisitionFilled, RequisitionCancelled:
	default:
		return fmt.Errorf("requisition %s: invalid status %q", r.ID, r.Status)
	}
	if r.Salary.Min < 0 || r.Salary.Max < 0 {
		return fmt.Errorf("requisition %s: salary band must not be negative", r.ID)
	}
	return validateBlobs("requisition "+r.ID, r.WeightOverrides, r.SpecialRequirements)
}

func (c Candidate) Validate() error {
	if err := c.NaturalKey().Validate(); err != nil {
		return fmt.Errorf("candidate: %w", err)
	}
	switch c.Status {
	case CandidatePending, CandidateAssessed:
	default:
		return fmt.Errorf("candidate %s: invalid status %q", c.NaturalKey(), c.Status)
	}
	return nil
}

func (a Assessment) Validate() error {
	if err := a.NaturalKey().Validate(); err != nil {
		return fmt.Errorf("assessment: %w", err)
	}
	if _, ok := ParseRecommendation(string(a.Recommendation)); !ok || NormalizeRecommendation(string(a.Recommendation)) != a.Recommendation {
		return fmt.Errorf("assessment %s: invalid recommendation %q", a.NaturalKey(), a.Recommendation)
	}
	switch a.Mode {
	case ModeAI, ModeManual, ModePending:
	default:
		return fmt.Errorf("assessment %s: invalid mode %q", a.NaturalKey(), a.Mode)
	}
	if a.Percentage < 0 {
		return fmt.Errorf("assessment %s: percentage must not be negative", a.NaturalKey())
	}
	return validateBlobs("assessment "+a.NaturalKey().String(), a.Scores)
}

func (b Batch) Validate() error {
	if err := b.NaturalKey().Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	switch b.Kind {
	case BatchFlat, BatchNested:
	default:
		return fmt.Errorf("batch %s: invalid kind %q", b.NaturalKey(), b.Kind)
	}
	if b.CandidateCount < 0 {
		return fmt.Errorf("batch %s: candidate count must not be negative", b.NaturalKey())
	}
	return nil
}

// ParseRecommendation maps file spellings such as "STRONG RECOMMEND" onto the enum.
// "PENDING" and empty values are undetermined.
func ParseRecommendation(raw string) (Recommendation, bool) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "", "pending", "undetermined", "n/a":
		return RecommendUndetermined, true
	case "strong_recommend", "strongly_recommend", "strong_recommendation":
		return RecommendStrong, true
	case "recommend", "recommended":
		return Recommend, true
	case "conditional", "conditionally_recommend":
		return RecommendConditional, true
	case "do_not_recommend", "not_recommended", "reject":
		return RecommendDoNot, true
	}
	return RecommendUndetermined, false
}

// NormalizeRecommendation is ParseRecommendation without the validity flag.
func NormalizeRecommendation(raw string) Recommendation {
	r, _ := ParseRecommendation(raw)
	return r
}

// FileRecommendation is the spelling written into assessment documents.
func FileRecommendation(r Recommendation) string {
	switch r {
	case RecommendStrong:
		return "STRONG RECOMMEND"
	case Recommend:
		return "RECOMMEND"
	case RecommendConditional:
		return "CONDITIONAL"
	case RecommendDoNot:
		return "DO NOT RECOMMEND"
	}
	return "PENDING"
}

// ModeFromAssessor derives the assessment mode from the free-form assessor label.
func ModeFromAssessor(assessor string) AssessmentMode {
	lower := strings.ToLower(strings.TrimSpace(assessor))
	switch {
	case lower == "", strings.Contains(lower, "pending"):
		return ModePending
	case strings.Contains(lower, "manual"):
		return ModeManual
	case strings.Contains(lower, "claude"), hasWord(lower, "ai"), strings.Contains(lower, "auto"):
		return ModeAI
	}
	return ModeManual
}

// AssessorLabel is the label written for a mode when the document's label disagrees.
func AssessorLabel(mode AssessmentMode) string {
	switch mode {
	case ModeAI:
		return "AI/Claude"
	case ModeManual:
		return "Manual"
	}
	return "Pending/Manual"
}

func hasWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if f == word {
			return true
		}
	}
	return false
}

// CanonicalJSON re-encodes raw JSON with sorted object keys and no insignificant whitespace.
func CanonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// BlobFrom encodes a decoded document value as a canonical JSON blob.
func BlobFrom(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalJSON(raw)
}

// BlobEqual compares two blobs by canonical form.
func BlobEqual(a, b json.RawMessage) bool {
	return bytes.Equal(canonicalOrNil(a), canonicalOrNil(b))
}

func canonicalOrNil(raw json.RawMessage) json.RawMessage {
	out, err := CanonicalJSON(raw)
	if err != nil {
		return raw
	}
	return out
}

func validateBlobs(owner string, blobs ...json.RawMessage) error {
	for _, b := range blobs {
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		if !json.Valid(b) {
			return fmt.Errorf("%s: blob is not valid JSON", owner)
		}
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func hashOf(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Every field is JSON-safe once blobs are validated.
		raw = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
