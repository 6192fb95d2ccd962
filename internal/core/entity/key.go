package entity

import (
	"fmt"
	"raafstore/internal/shared/util"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Kind string

const (
	KindClient      Kind = "client"
	KindRequisition Kind = "requisition"
	KindCandidate   Kind = "candidate"
	KindBatch       Kind = "batch"
	KindAssessment  Kind = "assessment"
)

// Kinds lists every kind in foreign-key dependency order.
var Kinds = []Kind{KindClient, KindRequisition, KindCandidate, KindBatch, KindAssessment}

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case KindClient, KindRequisition, KindCandidate, KindBatch, KindAssessment:
		return k, nil
	case "req":
		return KindRequisition, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", raw)
}

// Key is the natural key of an entity. Client uses ClientCode; Requisition uses ReqID;
// Candidate, Assessment and Batch use ReqID plus Name (normalized name or batch name).
type Key struct {
	Kind       Kind
	ClientCode string
	ReqID      string
	Name       string
}

func ClientKey(code string) Key {
	return Key{Kind: KindClient, ClientCode: code}
}

func RequisitionKey(reqID string) Key {
	return Key{Kind: KindRequisition, ReqID: reqID}
}

func CandidateKey(reqID, name string) Key {
	return Key{Kind: KindCandidate, ReqID: reqID, Name: name}
}

func AssessmentKey(reqID, name string) Key {
	return Key{Kind: KindAssessment, ReqID: reqID, Name: name}
}

func BatchKey(reqID, batch string) Key {
	return Key{Kind: KindBatch, ReqID: reqID, Name: batch}
}

func (k Key) String() string {
	switch k.Kind {
	case KindClient:
		return k.ClientCode
	case KindRequisition:
		return k.ReqID
	default:
		return k.ReqID + "/" + k.Name
	}
}

// LockKey identifies the key across kinds for per-entity serialization. An assessment
// shares its candidate's lock since writing one rewrites the other's status.
func (k Key) LockKey() string {
	if k.Kind == KindAssessment {
		return string(KindCandidate) + ":" + k.String()
	}
	return string(k.Kind) + ":" + k.String()
}

func (k Key) Validate() error {
	switch k.Kind {
	case KindClient:
		return validateKeyPart("client_code", k.ClientCode)
	case KindRequisition:
		return validateKeyPart("req_id", k.ReqID)
	case KindCandidate, KindAssessment, KindBatch:
		if err := validateKeyPart("req_id", k.ReqID); err != nil {
			return err
		}
		if err := validateKeyPart("name", k.Name); err != nil {
			return err
		}
		if k.Kind != KindBatch && NormalizeName(k.Name) != k.Name {
			return fmt.Errorf("name %q is not normalized (expected %q)", k.Name, NormalizeName(k.Name))
		}
		return nil
	}
	return fmt.Errorf("unknown entity kind %q", k.Kind)
}

// ParseKey parses the string form produced by Key.String for the given kind.
func ParseKey(kind Kind, raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	var key Key
	switch kind {
	case KindClient:
		key = ClientKey(raw)
	case KindRequisition:
		key = RequisitionKey(raw)
	case KindCandidate, KindAssessment, KindBatch:
		reqID, name, ok := strings.Cut(raw, "/")
		if !ok {
			return Key{}, fmt.Errorf("%s key %q must be <req_id>/<name>", kind, raw)
		}
		if kind != KindBatch {
			name = NormalizeName(name)
		}
		key = Key{Kind: kind, ReqID: reqID, Name: name}
	default:
		return Key{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}

func validateKeyPart(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if value != strings.TrimSpace(value) {
		return fmt.Errorf("%s %q has surrounding whitespace", field, value)
	}
	if value == "." || value == ".." || util.ContainsPathSeparator(value) {
		return fmt.Errorf("%s %q is not a valid path segment", field, value)
	}
	return nil
}

// nameSuffixes are file-name markers that are not part of a candidate's name.
var nameSuffixes = []string{"_resume", "resume", "_cv"}

// NormalizeName maps a candidate name or resume file stem to its dedup key in
// [a-z0-9_]: accents are folded, spaces, dashes and dots become single underscores,
// anything else is dropped, and trailing "resume"/"cv" markers are removed.
func NormalizeName(raw string) string {
	folded, _, err := transform.String(foldAccents(), strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		folded = strings.ToLower(strings.TrimSpace(raw))
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == ' ' || r == '-' || r == '.' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "_")
	for trimmed := true; trimmed; {
		trimmed = false
		for _, suffix := range nameSuffixes {
			if out != suffix && strings.HasSuffix(out, suffix) {
				out = strings.Trim(strings.TrimSuffix(out, suffix), "_")
				trimmed = true
			}
		}
	}
	return out
}

// foldAccents strips combining marks so "José" normalizes like "Jose". Transformers
// keep state, so one is built per call.
func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizeFileName normalizes a file name after dropping its extension.
func NormalizeFileName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return NormalizeName(name)
}

// DefaultDisplayName is the display name used when no artifact names the candidate.
func DefaultDisplayName(normalized string) string {
	// Casers keep state, so one is built per call.
	return cases.Title(language.English).String(strings.ReplaceAll(normalized, "_", " "))
}
