package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"raafstore/internal/core/errors"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Conversions between entities and their file-tree documents. Encode* functions take
// the current document bytes as base: an entity whose content hash matches the base
// gets the base back unchanged, and a modified entity is patched into the base so
// unknown fields pass through.

type clientDoc struct {
	ClientCode  string `yaml:"client_code"`
	CompanyName string `yaml:"company_name"`
	Industry    string `yaml:"industry"`
	Status      string `yaml:"status"`
	Billing     any    `yaml:"billing"`
	Preferences any    `yaml:"preferences"`
}

// ParseClient decodes client_info.yaml. dirCode is the client directory name and
// fills a missing client_code.
func ParseClient(raw []byte, path, dirCode string) (Client, error) {
	var doc clientDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Client{}, errors.ParseError(path, err)
	}
	code := strings.TrimSpace(doc.ClientCode)
	if code == "" {
		code = dirCode
	} else if dirCode != "" && code != dirCode {
		return Client{}, errors.ParseError(path, fmt.Errorf("client_code %q does not match directory %q", code, dirCode))
	}
	c := Client{
		Code:        code,
		CompanyName: doc.CompanyName,
		Industry:    doc.Industry,
		Status:      ClientStatus(strings.ToLower(strings.TrimSpace(doc.Status))),
	}
	if c.Status == "" {
		c.Status = ClientActive
	}
	var err error
	if c.Billing, err = BlobFrom(doc.Billing); err != nil {
		return Client{}, errors.ParseError(path, fmt.Errorf("billing: %w", err))
	}
	if c.Preferences, err = BlobFrom(doc.Preferences); err != nil {
		return Client{}, errors.ParseError(path, fmt.Errorf("preferences: %w", err))
	}
	if err := c.Validate(); err != nil {
		return Client{}, errors.ParseError(path, err)
	}
	return c, nil
}

func EncodeClient(c Client, base []byte) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "invalid client")
	}
	var old Client
	fresh := true
	if len(bytes.TrimSpace(base)) > 0 {
		if parsed, err := ParseClient(base, "", c.Code); err == nil {
			if parsed.ContentHash() == c.ContentHash() {
				return base, nil
			}
			old, fresh = parsed, false
		}
	}
	p := &patcher{doc: newYAMLDoc(base), fresh: fresh}
	p.field(old.Code != c.Code, c.Code, "client_code")
	p.field(old.CompanyName != c.CompanyName, c.CompanyName, "company_name")
	p.field(old.Industry != c.Industry, c.Industry, "industry")
	p.field(old.Status != c.Status, string(c.Status), "status")
	p.blob(!BlobEqual(old.Billing, c.Billing), c.Billing, "billing")
	p.blob(!BlobEqual(old.Preferences, c.Preferences), c.Preferences, "preferences")
	return p.bytes()
}

type thresholdsDoc struct {
	StrongRecommend *float64 `yaml:"strong_recommend"`
	Recommend       *float64 `yaml:"recommend"`
	Conditional     *float64 `yaml:"conditional"`
}

type requisitionDoc struct {
	RequisitionID string `yaml:"requisition_id"`
	ClientCode    string `yaml:"client_code"`
	Status        string `yaml:"status"`
	Job           struct {
		Title       string `yaml:"title"`
		SalaryRange struct {
			Min      int64  `yaml:"min"`
			Max      int64  `yaml:"max"`
			Currency string `yaml:"currency"`
		} `yaml:"salary_range"`
	} `yaml:"job"`
	Requirements struct {
		SpecialRequirements any `yaml:"special_requirements"`
	} `yaml:"requirements"`
	Assessment struct {
		Thresholds      thresholdsDoc `yaml:"thresholds"`
		WeightOverrides any           `yaml:"weight_overrides"`
	} `yaml:"assessment"`
}

// ParseRequisition decodes requisition.yaml. dirReqID and dirClient come from the
// document's location and fill missing identifiers.
func ParseRequisition(raw []byte, path, dirReqID, dirClient string) (Requisition, error) {
	var doc requisitionDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Requisition{}, errors.ParseError(path, err)
	}
	id := strings.TrimSpace(doc.RequisitionID)
	if id == "" {
		id = dirReqID
	} else if dirReqID != "" && id != dirReqID {
		return Requisition{}, errors.ParseError(path, fmt.Errorf("requisition_id %q does not match directory %q", id, dirReqID))
	}
	client := strings.TrimSpace(doc.ClientCode)
	if client == "" {
		client = dirClient
	} else if dirClient != "" && client != dirClient {
		return Requisition{}, errors.ParseError(path, fmt.Errorf("client_code %q does not match directory %q", client, dirClient))
	}
	r := Requisition{
		ID:         id,
		ClientCode: client,
		Title:      doc.Job.Title,
		Salary: SalaryBand{
			Min:      doc.Job.SalaryRange.Min,
			Max:      doc.Job.SalaryRange.Max,
			Currency: doc.Job.SalaryRange.Currency,
		},
		Status:     RequisitionStatus(strings.ToLower(strings.TrimSpace(doc.Status))),
		Thresholds: DefaultThresholds,
	}
	if r.Status == "" {
		r.Status = RequisitionActive
	}
	if t := doc.Assessment.Thresholds; t.StrongRecommend != nil {
		r.Thresholds.StrongRecommend = *t.StrongRecommend
	}
	if t := doc.Assessment.Thresholds; t.Recommend != nil {
		r.Thresholds.Recommend = *t.Recommend
	}
	if t := doc.Assessment.Thresholds; t.Conditional != nil {
		r.Thresholds.Conditional = *t.Conditional
	}
	var err error
	if r.WeightOverrides, err = BlobFrom(doc.Assessment.WeightOverrides); err != nil {
		return Requisition{}, errors.ParseError(path, fmt.Errorf("weight_overrides: %w", err))
	}
	if r.SpecialRequirements, err = BlobFrom(doc.Requirements.SpecialRequirements); err != nil {
		return Requisition{}, errors.ParseError(path, fmt.Errorf("special_requirements: %w", err))
	}
	if err := r.Validate(); err != nil {
		return Requisition{}, errors.ParseError(path, err)
	}
	return r, nil
}

func EncodeRequisition(r Requisition, base []byte) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "invalid requisition")
	}
	var old Requisition
	fresh := true
	if len(bytes.TrimSpace(base)) > 0 {
		if parsed, err := ParseRequisition(base, "", r.ID, r.ClientCode); err == nil {
			if parsed.ContentHash() == r.ContentHash() {
				return base, nil
			}
			old, fresh = parsed, false
		}
	}
	p := &patcher{doc: newYAMLDoc(base), fresh: fresh}
	p.field(old.ID != r.ID, r.ID, "requisition_id")
	p.field(old.ClientCode != r.ClientCode, r.ClientCode, "client_code")
	p.field(old.Status != r.Status, string(r.Status), "status")
	p.field(old.Title != r.Title, r.Title, "job", "title")
	p.field(old.Salary.Min != r.Salary.Min, r.Salary.Min, "job", "salary_range", "min")
	p.field(old.Salary.Max != r.Salary.Max, r.Salary.Max, "job", "salary_range", "max")
	p.field(old.Salary.Currency != r.Salary.Currency, r.Salary.Currency, "job", "salary_range", "currency")
	p.blob(!BlobEqual(old.SpecialRequirements, r.SpecialRequirements), r.SpecialRequirements, "requirements", "special_requirements")
	p.field(old.Thresholds.StrongRecommend != r.Thresholds.StrongRecommend, r.Thresholds.StrongRecommend, "assessment", "thresholds", "strong_recommend")
	p.field(old.Thresholds.Recommend != r.Thresholds.Recommend, r.Thresholds.Recommend, "assessment", "thresholds", "recommend")
	p.field(old.Thresholds.Conditional != r.Thresholds.Conditional, r.Thresholds.Conditional, "assessment", "thresholds", "conditional")
	p.blob(!BlobEqual(old.WeightOverrides, r.WeightOverrides), r.WeightOverrides, "assessment", "weight_overrides")
	return p.bytes()
}

// CandidateInfo is the candidate block carried by assessment documents and
// candidate profile documents.
type CandidateInfo struct {
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	Email          string `json:"email,omitempty" yaml:"email,omitempty"`
	SourcePlatform string `json:"source_platform,omitempty" yaml:"source_platform,omitempty"`
	Batch          string `json:"batch,omitempty" yaml:"batch,omitempty"`
}

type assessmentDoc struct {
	TotalScore          float64         `json:"total_score"`
	MaxScore            *float64        `json:"max_score"`
	Percentage          float64         `json:"percentage"`
	Recommendation      string          `json:"recommendation"`
	Summary             string          `json:"summary"`
	KeyStrengths        []string        `json:"key_strengths"`
	AreasOfConcern      []string        `json:"areas_of_concern"`
	InterviewFocusAreas []string        `json:"interview_focus_areas"`
	Scores              json.RawMessage `json:"scores"`
	Metadata            struct {
		Assessor   string `json:"assessor"`
		AssessedAt string `json:"assessed_at"`
	} `json:"metadata"`
	Candidate CandidateInfo `json:"candidate"`
}

// ParseAssessment decodes <name>_assessment.json for the candidate (reqID, name).
func ParseAssessment(raw []byte, path, reqID, name string) (Assessment, CandidateInfo, error) {
	var doc assessmentDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Assessment{}, CandidateInfo{}, errors.ParseError(path, err)
	}
	rec, ok := ParseRecommendation(doc.Recommendation)
	if !ok {
		return Assessment{}, CandidateInfo{}, errors.ParseError(path, fmt.Errorf("unknown recommendation %q", doc.Recommendation))
	}
	a := Assessment{
		ReqID:               reqID,
		CandidateName:       name,
		TotalScore:          doc.TotalScore,
		MaxScore:            100,
		Percentage:          doc.Percentage,
		Recommendation:      rec,
		Mode:                ModeFromAssessor(doc.Metadata.Assessor),
		AssessedAt:          doc.Metadata.AssessedAt,
		Summary:             doc.Summary,
		KeyStrengths:        doc.KeyStrengths,
		AreasOfConcern:      doc.AreasOfConcern,
		InterviewFocusAreas: doc.InterviewFocusAreas,
	}
	if doc.MaxScore != nil {
		a.MaxScore = *doc.MaxScore
	}
	scores, err := CanonicalJSON(doc.Scores)
	if err != nil {
		return Assessment{}, CandidateInfo{}, errors.ParseError(path, fmt.Errorf("scores: %w", err))
	}
	a.Scores = scores
	if err := a.Validate(); err != nil {
		return Assessment{}, CandidateInfo{}, errors.ParseError(path, err)
	}
	return a, doc.Candidate, nil
}

func EncodeAssessment(a Assessment, base []byte) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "invalid assessment")
	}
	var old Assessment
	fresh := true
	doc := map[string]any{}
	if len(bytes.TrimSpace(base)) > 0 {
		if parsed, _, err := ParseAssessment(base, "", a.ReqID, a.CandidateName); err == nil {
			if parsed.ContentHash() == a.ContentHash() {
				return base, nil
			}
			dec := json.NewDecoder(bytes.NewReader(base))
			dec.UseNumber()
			if err := dec.Decode(&doc); err == nil {
				old, fresh = parsed, false
			} else {
				doc = map[string]any{}
			}
		}
	}
	set := func(changed bool, key string, value any) {
		if fresh || changed {
			doc[key] = value
		}
	}
	meta, _ := doc["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	if fresh {
		meta["requisition_id"] = a.ReqID
	}
	if fresh || old.Mode != a.Mode {
		meta["assessor"] = AssessorLabel(a.Mode)
	}
	if fresh || old.AssessedAt != a.AssessedAt {
		meta["assessed_at"] = a.AssessedAt
	}
	doc["metadata"] = meta
	set(old.TotalScore != a.TotalScore, "total_score", a.TotalScore)
	set(old.MaxScore != a.MaxScore, "max_score", a.MaxScore)
	set(old.Percentage != a.Percentage, "percentage", a.Percentage)
	set(old.Recommendation != a.Recommendation, "recommendation", FileRecommendation(a.Recommendation))
	set(old.Summary != a.Summary, "summary", a.Summary)
	set(!slices.Equal(old.KeyStrengths, a.KeyStrengths), "key_strengths", nonNil(a.KeyStrengths))
	set(!slices.Equal(old.AreasOfConcern, a.AreasOfConcern), "areas_of_concern", nonNil(a.AreasOfConcern))
	set(!slices.Equal(old.InterviewFocusAreas, a.InterviewFocusAreas), "interview_focus_areas", nonNil(a.InterviewFocusAreas))
	if fresh || !BlobEqual(old.Scores, a.Scores) {
		if len(a.Scores) == 0 {
			delete(doc, "scores")
		} else {
			doc["scores"] = json.RawMessage(a.Scores)
		}
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// BatchManifest is batch_manifest.yaml. Files lists original upload names.
type BatchManifest struct {
	BatchName     string   `yaml:"batch_name"`
	RequisitionID string   `yaml:"requisition_id"`
	ClientCode    string   `yaml:"client_code"`
	Status        string   `yaml:"status"`
	Files         []string `yaml:"files"`
}

func ParseBatchManifest(raw []byte, path string) (BatchManifest, error) {
	var m BatchManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return BatchManifest{}, errors.ParseError(path, err)
	}
	return m, nil
}

func EncodeBatchManifest(m BatchManifest, base []byte) ([]byte, error) {
	var old BatchManifest
	fresh := true
	if len(bytes.TrimSpace(base)) > 0 {
		if parsed, err := ParseBatchManifest(base, ""); err == nil {
			old, fresh = parsed, false
		}
	}
	p := &patcher{doc: newYAMLDoc(base), fresh: fresh}
	p.field(old.BatchName != m.BatchName, m.BatchName, "batch_name")
	p.field(old.RequisitionID != m.RequisitionID, m.RequisitionID, "requisition_id")
	p.field(old.ClientCode != m.ClientCode, m.ClientCode, "client_code")
	if m.Status != "" || fresh {
		status := m.Status
		if status == "" {
			status = "pending"
		}
		p.field(old.Status != status, status, "status")
	}
	filesChanged := !slices.Equal(old.Files, m.Files)
	p.field(filesChanged, len(m.Files), "file_count")
	p.field(filesChanged, nonNil(m.Files), "files")
	return p.bytes()
}

func ParseCandidateProfile(raw []byte, path string) (CandidateInfo, error) {
	var info CandidateInfo
	if err := yaml.Unmarshal(raw, &info); err != nil {
		return CandidateInfo{}, errors.ParseError(path, err)
	}
	return info, nil
}

func EncodeCandidateProfile(info CandidateInfo, base []byte) ([]byte, error) {
	var old CandidateInfo
	fresh := true
	if len(bytes.TrimSpace(base)) > 0 {
		if parsed, err := ParseCandidateProfile(base, ""); err == nil {
			if parsed == info {
				return base, nil
			}
			old, fresh = parsed, false
		}
	}
	p := &patcher{doc: newYAMLDoc(base), fresh: fresh}
	p.field(old.Name != info.Name, info.Name, "name")
	p.field(old.Email != info.Email, info.Email, "email")
	p.field(old.SourcePlatform != info.SourcePlatform, info.SourcePlatform, "source_platform")
	p.field(old.Batch != info.Batch, info.Batch, "batch")
	return p.bytes()
}

// Artifacts is everything the file tree holds about one candidate name.
type Artifacts struct {
	ReqID       string
	Name        string
	ResumePaths []string
	// Batches containing a resume or manifest entry for the candidate.
	Batches        []string
	Profile        *CandidateInfo
	AssessmentInfo *CandidateInfo
	Assessed       bool
}

// CandidateFromArtifacts derives a candidate. Profile fields win over the assessment's
// candidate block; the display name falls back to the title-cased normalized name.
func CandidateFromArtifacts(a Artifacts) Candidate {
	c := Candidate{
		ReqID:       a.ReqID,
		Name:        a.Name,
		ResumePaths: append([]string{}, a.ResumePaths...),
		Status:      CandidatePending,
	}
	sort.Strings(c.ResumePaths)
	infos := make([]*CandidateInfo, 0, 2)
	if a.Profile != nil {
		infos = append(infos, a.Profile)
	}
	if a.AssessmentInfo != nil {
		infos = append(infos, a.AssessmentInfo)
	}
	pick := func(get func(*CandidateInfo) string) string {
		for _, info := range infos {
			if v := strings.TrimSpace(get(info)); v != "" {
				return v
			}
		}
		return ""
	}
	c.DisplayName = pick(func(i *CandidateInfo) string { return i.Name })
	if c.DisplayName == "" {
		c.DisplayName = DefaultDisplayName(a.Name)
	}
	c.Email = pick(func(i *CandidateInfo) string { return i.Email })
	c.SourcePlatform = pick(func(i *CandidateInfo) string { return i.SourcePlatform })
	if len(a.Batches) > 0 {
		batches := append([]string{}, a.Batches...)
		sort.Strings(batches)
		c.BatchLabel = batches[0]
	} else {
		c.BatchLabel = pick(func(i *CandidateInfo) string { return i.Batch })
	}
	if a.Assessed {
		c.Status = CandidateAssessed
	}
	return c
}
