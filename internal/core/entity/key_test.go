package entity

import "testing"

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Spaces", input: "Jane Doe", expected: "jane_doe"},
		{name: "Dashes", input: "mary-ann smith", expected: "mary_ann_smith"},
		{name: "ResumeSuffix", input: "john_roe_resume", expected: "john_roe"},
		{name: "ResumeNoSeparator", input: "JohnRoeResume", expected: "johnroe"},
		{name: "Punctuation", input: "  O'Brien, Pat. ", expected: "obrien_pat"},
		{name: "TrailingUnderscore", input: "ann_", expected: "ann"},
		{name: "Idempotent", input: "jane_doe", expected: "jane_doe"},
		{name: "AccentsFolded", input: "José Núñez", expected: "jose_nunez"},
		{name: "NonASCIIDropped", input: "Søren Ålund", expected: "sren_alund"},
		{name: "DotsSeparate", input: "j.doe", expected: "j_doe"},
		{name: "RepeatedSeparatorsCollapse", input: "Pat.  Smith--Jones", expected: "pat_smith_jones"},
		{name: "CVSuffix", input: "jane_doe_cv", expected: "jane_doe"},
		{name: "CVThenResume", input: "Jane Doe CV Resume", expected: "jane_doe"},
		{name: "BareMarkerKept", input: "resume", expected: "resume"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeName(tc.input); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestNormalizeFileName(t *testing.T) {
	if got := NormalizeFileName("Jane Doe Resume.pdf"); got != "jane_doe" {
		t.Fatalf("expected jane_doe, got %q", got)
	}
	if got := NormalizeFileName("jane_doe_resume.txt"); got != "jane_doe" {
		t.Fatalf("expected jane_doe, got %q", got)
	}
	if got := NormalizeFileName("Doe-Jane_CV.docx"); got != "doe_jane" {
		t.Fatalf("expected doe_jane, got %q", got)
	}
}

func TestDefaultDisplayName(t *testing.T) {
	if got := DefaultDisplayName("jane_doe"); got != "Jane Doe" {
		t.Fatalf("expected Jane Doe, got %q", got)
	}
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey(KindCandidate, "REQ-1/Jane Doe")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if key != CandidateKey("REQ-1", "jane_doe") {
		t.Fatalf("unexpected key %#v", key)
	}
	if key.String() != "REQ-1/jane_doe" {
		t.Fatalf("unexpected string form %q", key.String())
	}
	if key.LockKey() != "candidate:REQ-1/jane_doe" {
		t.Fatalf("unexpected lock key %q", key.LockKey())
	}
	if got := AssessmentKey("REQ-1", "jane_doe").LockKey(); got != key.LockKey() {
		t.Fatalf("assessment should share the candidate lock, got %q", got)
	}

	batch, err := ParseKey(KindBatch, "REQ-1/Batch A")
	if err != nil {
		t.Fatalf("parse batch key: %v", err)
	}
	if batch.Name != "Batch A" {
		t.Fatalf("batch names are kept verbatim, got %q", batch.Name)
	}

	for _, raw := range []string{"REQ-1", "../x", "REQ-1/"} {
		if _, err := ParseKey(KindAssessment, raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	if _, err := ParseKey(KindClient, "a/b"); err == nil {
		t.Fatal("expected error for client code containing a separator")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("req"); err != nil || k != KindRequisition {
		t.Fatalf("expected requisition alias, got %q %v", k, err)
	}
	if _, err := ParseKind("invoice"); err == nil {
		t.Fatal("expected unknown kind error")
	}
}
