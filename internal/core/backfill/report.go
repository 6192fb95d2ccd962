package backfill

import (
	"fmt"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"sort"
	"strings"
	"time"
)

type RunMode string

const (
	ModeNormal RunMode = "normal"
	ModeDryRun RunMode = "dry-run"
	ModeVerify RunMode = "verify-only"
)

// KindStats counts what a pass did to one entity kind.
type KindStats struct {
	Kind      entity.Kind `json:"kind"`
	Scanned   int         `json:"scanned"`
	Created   int         `json:"created"`
	Updated   int         `json:"updated"`
	Unchanged int         `json:"unchanged"`
	Failed    int         `json:"failed"`
	Archived  int         `json:"archived"`
}

// Failure is one entity that could not be read or upserted.
type Failure struct {
	Kind  entity.Kind      `json:"kind"`
	Key   string           `json:"key"`
	Path  string           `json:"path,omitempty"`
	Code  errors.ErrorCode `json:"code"`
	Error string           `json:"error"`
}

type PlanAction string

const (
	PlanCreate  PlanAction = "create"
	PlanUpdate  PlanAction = "update"
	PlanArchive PlanAction = "archive"
)

type PlanItem struct {
	Kind   entity.Kind `json:"kind"`
	Key    string      `json:"key"`
	Action PlanAction  `json:"action"`
}

// KindVerification compares the key sets of one kind across both stores. Drifted keys
// exist on both sides with different content.
type KindVerification struct {
	Kind           entity.Kind `json:"kind"`
	FileCount      int         `json:"file_count"`
	StoreCount     int         `json:"store_count"`
	MissingInStore []string    `json:"missing_in_store"`
	MissingInFiles []string    `json:"missing_in_files"`
	Drifted        []string    `json:"drifted"`
}

func (v KindVerification) Mismatched() bool {
	return v.FileCount != v.StoreCount || len(v.MissingInStore) > 0 || len(v.MissingInFiles) > 0 || len(v.Drifted) > 0
}

// Report is the outcome of one backfill run.
type Report struct {
	RunID          string              `json:"run_id"`
	Mode           RunMode             `json:"mode"`
	Scope          string              `json:"scope"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
	Cancelled      bool                `json:"cancelled,omitempty"`
	Stats          []KindStats         `json:"stats,omitempty"`
	Plan           []PlanItem          `json:"plan,omitempty"`
	Verification   []KindVerification  `json:"verification,omitempty"`
	Archived       map[string][]string `json:"archived,omitempty"`
	Failures       []Failure           `json:"failures,omitempty"`
	JournalAcked   int                 `json:"journal_acked"`
	JournalPending int                 `json:"journal_pending"`
}

func newReport(runID string, mode RunMode, scope string, started time.Time) *Report {
	r := &Report{RunID: runID, Mode: mode, Scope: scope, StartedAt: started}
	for _, kind := range entity.Kinds {
		r.Stats = append(r.Stats, KindStats{Kind: kind})
	}
	return r
}

func (r *Report) stats(kind entity.Kind) *KindStats {
	for i := range r.Stats {
		if r.Stats[i].Kind == kind {
			return &r.Stats[i]
		}
	}
	r.Stats = append(r.Stats, KindStats{Kind: kind})
	return &r.Stats[len(r.Stats)-1]
}

func (r *Report) fail(kind entity.Kind, key, path string, err error) {
	r.stats(kind).Failed++
	r.Failures = append(r.Failures, Failure{Kind: kind, Key: key, Path: path, Code: errors.CodeOf(err), Error: err.Error()})
}

// Writes is the number of rows created, updated or archived.
func (r *Report) Writes() int {
	n := 0
	for _, s := range r.Stats {
		n += s.Created + s.Updated + s.Archived
	}
	return n
}

// Mismatched reports whether any kind disagrees between files and store.
func (r *Report) Mismatched() bool {
	for _, v := range r.Verification {
		if v.Mismatched() {
			return true
		}
	}
	return false
}

// Err summarizes the run as an error: VERIFICATION_MISMATCH for a verify run that found
// divergence, or the first failure's code when any entity failed.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	if r.Mismatched() {
		var kinds []string
		for _, v := range r.Verification {
			if v.Mismatched() {
				kinds = append(kinds, string(v.Kind))
			}
		}
		return errors.New(errors.CodeVerificationMismatch, fmt.Sprintf("files and store disagree on %s", strings.Join(kinds, ", ")))
	}
	if len(r.Failures) > 0 {
		code := r.Failures[0].Code
		if code == "" {
			code = errors.CodeInternal
		}
		return errors.New(code, fmt.Sprintf("%d entities failed", len(r.Failures)))
	}
	return nil
}

func (r *Report) sortFailures() {
	rank := make(map[entity.Kind]int, len(entity.Kinds))
	for i, k := range entity.Kinds {
		rank[k] = i
	}
	sort.SliceStable(r.Failures, func(i, j int) bool {
		a, b := r.Failures[i], r.Failures[j]
		if a.Kind != b.Kind {
			return rank[a.Kind] < rank[b.Kind]
		}
		return a.Key < b.Key
	})
}
