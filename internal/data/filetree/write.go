package filetree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/shared/util"
	"slices"
)

// Write dispatches to the kind-specific writer. resumeText is only used for candidates.
func (a *Adapter) Write(ctx context.Context, e entity.Entity, resumeText []byte) error {
	switch v := e.(type) {
	case entity.Client:
		return a.WriteClient(ctx, v)
	case entity.Requisition:
		return a.WriteRequisition(ctx, v)
	case entity.Candidate:
		return a.WriteCandidate(ctx, v, resumeText)
	case entity.Assessment:
		return a.WriteAssessment(ctx, v)
	case entity.Batch:
		return a.WriteBatch(ctx, v)
	case nil:
		return errors.New(errors.CodeValidationError, "nil entity")
	}
	return errors.New(errors.CodeNotSupported, fmt.Sprintf("unsupported entity type %T", e))
}

// patchFile rewrites rel under its path lock. encode receives the current bytes (nil
// when absent); identical output skips the write.
func (a *Adapter) patchFile(ctx context.Context, rel string, encode func(base []byte) ([]byte, error)) error {
	unlock := a.locks.Lock(rel)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	base, found, err := a.readFile(rel)
	if err != nil {
		return err
	}
	out, err := encode(base)
	if err != nil {
		return err
	}
	if found && bytes.Equal(out, base) {
		return nil
	}
	if err := util.WriteFileAtomic(a.abs(rel), out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func validateEntity(e entity.Entity) error {
	if err := e.Validate(); err != nil {
		err = errors.Wrap(err, errors.CodeValidationError, "invalid "+string(e.EntityKind()))
		return errors.AddContext(err, errors.CtxKey, e.NaturalKey().String())
	}
	return nil
}

func (a *Adapter) WriteClient(ctx context.Context, c entity.Client) error {
	if err := validateEntity(c); err != nil {
		return err
	}
	return a.patchFile(ctx, clientInfoPath(c.Code), func(base []byte) ([]byte, error) {
		return entity.EncodeClient(c, base)
	})
}

// WriteRequisition writes requisition.yaml under the owning client, which must exist.
// Moving a requisition to another client is rejected.
func (a *Adapter) WriteRequisition(ctx context.Context, r entity.Requisition) error {
	if err := validateEntity(r); err != nil {
		return err
	}
	if !a.dirExists(clientDir(r.ClientCode)) {
		return errors.New(errors.CodeValidationError, fmt.Sprintf("client %q does not exist in the file tree", r.ClientCode))
	}
	current, ok, err := a.LocateRequisition(ctx, r.ID)
	if err != nil {
		return err
	}
	if ok && current != r.ClientCode {
		return errors.New(errors.CodeValidationError, fmt.Sprintf("requisition %q belongs to client %q, not %q", r.ID, current, r.ClientCode))
	}
	if err := a.patchFile(ctx, requisitionPath(r.ClientCode, r.ID), func(base []byte) ([]byte, error) {
		return entity.EncodeRequisition(r, base)
	}); err != nil {
		return err
	}
	a.remember(r.ID, r.ClientCode)
	return nil
}

func (a *Adapter) requireRequisition(ctx context.Context, reqID string) (string, error) {
	code, ok, err := a.LocateRequisition(ctx, reqID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NotFound(string(entity.KindRequisition), reqID)
	}
	return code, nil
}

// WriteCandidate records a candidate. resumeText, when given, becomes the candidate's
// resume inside its batch (or resumes/processed without one). Without resume text a
// batch label adds a manifest entry. Attributes the other artifacts cannot express are
// kept in a <name>_candidate.yaml profile. Resume paths and status are derived and
// never written.
func (a *Adapter) WriteCandidate(ctx context.Context, c entity.Candidate, resumeText []byte) error {
	if err := validateEntity(c); err != nil {
		return err
	}
	code, err := a.requireRequisition(ctx, c.ReqID)
	if err != nil {
		return err
	}
	_, arts, err := a.scanRequisition(ctx, code, c.ReqID)
	if err != nil {
		return err
	}
	art, ok := arts[c.Name]
	if !ok {
		art = &artifacts{batches: make(map[string]bool)}
	}

	switch {
	case len(resumeText) > 0:
		rel := processedResumePath(code, c.ReqID, c.Name)
		if c.BatchLabel != "" {
			bRel := batchDir(code, c.ReqID, c.BatchLabel)
			rel = path.Join(bRel, c.Name+resumeSuffix)
			if a.dirExists(path.Join(bRel, originalsDir)) || a.dirExists(path.Join(bRel, extractedDir)) {
				rel = path.Join(bRel, extractedDir, c.Name+resumeSuffix)
			}
			art.batches[c.BatchLabel] = true
		}
		if err := a.patchFile(ctx, rel, func([]byte) ([]byte, error) { return resumeText, nil }); err != nil {
			return err
		}
		if !slices.Contains(art.resumes, rel) {
			art.resumes = append(art.resumes, rel)
		}
	case c.BatchLabel != "" && !art.batches[c.BatchLabel]:
		if err := a.addManifestEntry(ctx, code, c.ReqID, c.BatchLabel, c.Name); err != nil {
			return err
		}
		art.batches[c.BatchLabel] = true
	}

	derived := art.derive(c.ReqID, c.Name, false)
	hasArtifacts := len(art.resumes) > 0 || len(art.batches) > 0 || art.assessmentFile != ""
	display := c.DisplayName
	if display == "" {
		display = derived.DisplayName
	}
	needProfile := art.profileExists || !hasArtifacts ||
		display != derived.DisplayName ||
		c.Email != derived.Email ||
		c.SourcePlatform != derived.SourcePlatform
	if !needProfile {
		return nil
	}
	info := entity.CandidateInfo{
		Name:           display,
		Email:          c.Email,
		SourcePlatform: c.SourcePlatform,
		Batch:          c.BatchLabel,
	}
	return a.patchFile(ctx, profilePath(code, c.ReqID, c.Name), func(base []byte) ([]byte, error) {
		return entity.EncodeCandidateProfile(info, base)
	})
}

func (a *Adapter) addManifestEntry(ctx context.Context, clientCode, reqID, batch, name string) error {
	rel := path.Join(batchDir(clientCode, reqID, batch), manifestFile)
	return a.patchFile(ctx, rel, func(base []byte) ([]byte, error) {
		m, err := manifestFrom(base, rel)
		if err != nil {
			return nil, err
		}
		fillManifest(&m, clientCode, reqID, batch)
		for _, f := range m.Files {
			if entity.NormalizeFileName(path.Base(f)) == name {
				return entity.EncodeBatchManifest(m, base)
			}
		}
		m.Files = append(m.Files, name)
		return entity.EncodeBatchManifest(m, base)
	})
}

func manifestFrom(base []byte, rel string) (entity.BatchManifest, error) {
	if len(bytes.TrimSpace(base)) == 0 {
		return entity.BatchManifest{}, nil
	}
	return entity.ParseBatchManifest(base, rel)
}

func fillManifest(m *entity.BatchManifest, clientCode, reqID, batch string) {
	if m.BatchName == "" {
		m.BatchName = batch
	}
	if m.RequisitionID == "" {
		m.RequisitionID = reqID
	}
	if m.ClientCode == "" {
		m.ClientCode = clientCode
	}
}

// WriteAssessment writes the candidate's assessment document, reusing an existing file
// whose name normalizes to the candidate.
func (a *Adapter) WriteAssessment(ctx context.Context, as entity.Assessment) error {
	if err := validateEntity(as); err != nil {
		return err
	}
	code, err := a.requireRequisition(ctx, as.ReqID)
	if err != nil {
		return err
	}
	rel, ok, err := a.findAssessment(code, as.ReqID, as.CandidateName)
	if err != nil {
		return err
	}
	if !ok {
		rel = assessmentPath(code, as.ReqID, as.CandidateName)
	}
	return a.patchFile(ctx, rel, func(base []byte) ([]byte, error) {
		return entity.EncodeAssessment(as, base)
	})
}

// WriteBatch creates the batch directory (with originals/ and extracted/ for nested
// batches) and its manifest. Candidate count and manifest path are derived.
func (a *Adapter) WriteBatch(ctx context.Context, b entity.Batch) error {
	if err := validateEntity(b); err != nil {
		return err
	}
	code, err := a.requireRequisition(ctx, b.ReqID)
	if err != nil {
		return err
	}
	bRel := batchDir(code, b.ReqID, b.Name)
	dirs := []string{bRel}
	if b.Kind == entity.BatchNested {
		dirs = []string{path.Join(bRel, originalsDir), path.Join(bRel, extractedDir)}
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(a.abs(dir), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	rel := path.Join(bRel, manifestFile)
	return a.patchFile(ctx, rel, func(base []byte) ([]byte, error) {
		m, err := manifestFrom(base, rel)
		if err != nil {
			return nil, err
		}
		fillManifest(&m, code, b.ReqID, b.Name)
		return entity.EncodeBatchManifest(m, base)
	})
}
