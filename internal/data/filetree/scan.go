package filetree

import (
	"context"
	"fmt"
	"path"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/observability"
	"raafstore/internal/shared/util"
	"sort"
	"strings"
)

// RequisitionScan is everything derived from one requisition directory.
type RequisitionScan struct {
	ClientCode  string
	ReqID       string
	Candidates  []entity.Candidate
	Assessments []entity.Assessment
	Batches     []entity.Batch
	// Names holds every normalized candidate name found, including candidates whose
	// own documents could not be read.
	Names  []string
	Seen   map[entity.Kind]map[string]string
	Errors []ports.FileError
}

func (s *RequisitionScan) see(key entity.Key, hash string) {
	if s.Seen == nil {
		s.Seen = make(map[entity.Kind]map[string]string)
	}
	if s.Seen[key.Kind] == nil {
		s.Seen[key.Kind] = make(map[string]string)
	}
	s.Seen[key.Kind][key.String()] = hash
}

func (s *RequisitionScan) fail(key entity.Key, rel string, err error) {
	s.Errors = append(s.Errors, ports.FileError{Path: rel, Kind: key.Kind, Key: key.String(), Err: err})
	s.see(key, "")
	observability.FileParseErrorsTotal.WithLabelValues(string(key.Kind)).Inc()
}

func (s *RequisitionScan) errorFor(key entity.Key) error {
	for _, fe := range s.Errors {
		if fe.Kind == key.Kind && fe.Key == key.String() {
			return fe.Err
		}
	}
	return nil
}

type artifacts struct {
	resumes        []string
	batches        map[string]bool
	profile        *entity.CandidateInfo
	profileExists  bool
	assessment     *entity.CandidateInfo
	assessmentFile string
	assessed       bool
	broken         bool
}

func (a *artifacts) derive(reqID, name string, withProfile bool) entity.Candidate {
	in := entity.Artifacts{
		ReqID:          reqID,
		Name:           name,
		ResumePaths:    a.resumes,
		Batches:        util.SortedStringKeys(a.batches),
		AssessmentInfo: a.assessment,
		Assessed:       a.assessed,
	}
	if withProfile {
		in.Profile = a.profile
	}
	return entity.CandidateFromArtifacts(in)
}

// ScanRequisition derives candidates, assessments and batches of reqID. found is false
// when the requisition is not in the tree.
func (a *Adapter) ScanRequisition(ctx context.Context, reqID string) (*RequisitionScan, bool, error) {
	code, ok, err := a.LocateRequisition(ctx, reqID)
	if err != nil || !ok {
		return nil, false, err
	}
	scan, _, err := a.scanRequisition(ctx, code, reqID)
	if err != nil {
		return nil, false, err
	}
	return scan, true, nil
}

func (a *Adapter) scanRequisition(ctx context.Context, clientCode, reqID string) (*RequisitionScan, map[string]*artifacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	scan := &RequisitionScan{ClientCode: clientCode, ReqID: reqID, Seen: make(map[entity.Kind]map[string]string)}
	arts := make(map[string]*artifacts)
	get := func(name string) *artifacts {
		art, ok := arts[name]
		if !ok {
			art = &artifacts{batches: make(map[string]bool)}
			arts[name] = art
		}
		return art
	}
	reqRel := requisitionDir(clientCode, reqID)

	processed := path.Join(reqRel, processedDir)
	entries, err := a.readDir(processed)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		rel := path.Join(processed, e.Name())
		if e.IsDir() || a.excluded(rel) {
			continue
		}
		lower := strings.ToLower(e.Name())
		switch {
		case strings.HasSuffix(lower, profileSuffix):
			name := entity.NormalizeName(e.Name()[:len(e.Name())-len(profileSuffix)])
			if name == "" {
				continue
			}
			art := get(name)
			art.profileExists = true
			raw, _, err := a.readFile(rel)
			if err != nil {
				art.broken = true
				scan.fail(entity.CandidateKey(reqID, name), rel, errors.ParseError(rel, err))
				continue
			}
			info, err := entity.ParseCandidateProfile(raw, rel)
			if err != nil {
				art.broken = true
				scan.fail(entity.CandidateKey(reqID, name), rel, err)
				continue
			}
			art.profile = &info
		case isResumeFile(e.Name()):
			name := entity.NormalizeFileName(e.Name())
			if name == "" {
				continue
			}
			art := get(name)
			art.resumes = append(art.resumes, rel)
		}
	}

	if err := a.scanBatches(ctx, scan, reqRel, get); err != nil {
		return nil, nil, err
	}

	assessDir := path.Join(reqRel, assessmentsDir)
	entries, err = a.readDir(assessDir)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		stem, ok := assessmentStem(e)
		rel := path.Join(assessDir, e.Name())
		if !ok || a.excluded(rel) {
			continue
		}
		name := entity.NormalizeName(stem)
		if name == "" {
			continue
		}
		key := entity.AssessmentKey(reqID, name)
		art := get(name)
		if art.assessmentFile != "" {
			scan.fail(key, rel, errors.ParseError(rel, fmt.Errorf("duplicate assessment for %s, already read %s", name, art.assessmentFile)))
			continue
		}
		art.assessmentFile = rel
		raw, _, err := a.readFile(rel)
		if err != nil {
			scan.fail(key, rel, errors.ParseError(rel, err))
			continue
		}
		as, info, err := entity.ParseAssessment(raw, rel, reqID, name)
		if err != nil {
			scan.fail(key, rel, err)
			continue
		}
		art.assessed = true
		art.assessment = &info
		scan.Assessments = append(scan.Assessments, as)
		scan.see(key, as.ContentHash())
	}

	names := make([]string, 0, len(arts))
	for name := range arts {
		names = append(names, name)
	}
	sort.Strings(names)
	scan.Names = names
	for _, name := range names {
		art := arts[name]
		key := entity.CandidateKey(reqID, name)
		if art.broken {
			continue
		}
		c := art.derive(reqID, name, true)
		if err := c.Validate(); err != nil {
			rel := path.Join(reqRel, processedDir)
			if len(art.resumes) > 0 {
				rel = art.resumes[0]
			}
			scan.fail(key, rel, errors.ParseError(rel, err))
			continue
		}
		scan.Candidates = append(scan.Candidates, c)
		scan.see(key, c.ContentHash())
	}
	return scan, arts, nil
}

func (a *Adapter) scanBatches(ctx context.Context, scan *RequisitionScan, reqRel string, get func(string) *artifacts) error {
	root := path.Join(reqRel, batchesDir)
	batches, err := a.listDirs(root)
	if err != nil {
		return err
	}
	for _, name := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		bRel := path.Join(root, name)
		key := entity.BatchKey(scan.ReqID, name)
		members := make(map[string]bool)
		broken := false

		b := entity.Batch{ReqID: scan.ReqID, Name: name, Kind: entity.BatchFlat}
		manifestRel := path.Join(bRel, manifestFile)
		raw, ok, err := a.readFile(manifestRel)
		switch {
		case err != nil:
			broken = true
			scan.fail(key, manifestRel, errors.ParseError(manifestRel, err))
		case ok:
			b.ManifestPath = manifestRel
			m, err := entity.ParseBatchManifest(raw, manifestRel)
			if err != nil {
				broken = true
				scan.fail(key, manifestRel, err)
				break
			}
			for _, f := range m.Files {
				member := entity.NormalizeFileName(path.Base(strings.ReplaceAll(f, "\\", "/")))
				if member == "" {
					continue
				}
				members[member] = true
				get(member).batches[name] = true
			}
		}

		dirs := []string{bRel}
		if a.dirExists(path.Join(bRel, originalsDir)) || a.dirExists(path.Join(bRel, extractedDir)) {
			b.Kind = entity.BatchNested
			dirs = []string{path.Join(bRel, originalsDir), path.Join(bRel, extractedDir)}
		}
		for _, dir := range dirs {
			entries, err := a.readDir(dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				rel := path.Join(dir, e.Name())
				if e.IsDir() || a.excluded(rel) || !isResumeFile(e.Name()) {
					continue
				}
				member := entity.NormalizeFileName(e.Name())
				if member == "" {
					continue
				}
				members[member] = true
				art := get(member)
				art.batches[name] = true
				art.resumes = append(art.resumes, rel)
			}
		}

		if broken {
			continue
		}
		b.CandidateCount = len(members)
		if err := b.Validate(); err != nil {
			scan.fail(key, bRel, errors.ParseError(bRel, err))
			continue
		}
		scan.Batches = append(scan.Batches, b)
		scan.see(key, b.ContentHash())
	}
	return nil
}

// Scan builds the file inventory of scope. Parents of the scoped entities are always
// included so their rows can be upserted first.
func (a *Adapter) Scan(ctx context.Context, scope ports.Scope) (*ports.FileInventory, error) {
	inv := &ports.FileInventory{Scope: scope, Seen: make(map[entity.Kind]map[string]string)}
	see := func(key entity.Key, hash string) {
		if inv.Seen[key.Kind] == nil {
			inv.Seen[key.Kind] = make(map[string]string)
		}
		inv.Seen[key.Kind][key.String()] = hash
	}
	fail := func(key entity.Key, rel string, err error) {
		inv.Errors = append(inv.Errors, ports.FileError{Path: rel, Kind: key.Kind, Key: key.String(), Err: err})
		see(key, "")
		observability.FileParseErrorsTotal.WithLabelValues(string(key.Kind)).Inc()
	}

	var clients []string
	switch {
	case scope.ReqID != "":
		code, ok, err := a.LocateRequisition(ctx, scope.ReqID)
		if err != nil {
			return nil, err
		}
		if !ok || (scope.ClientCode != "" && scope.ClientCode != code) {
			return inv, nil
		}
		clients = []string{code}
	case scope.ClientCode != "":
		if !a.dirExists(clientDir(scope.ClientCode)) {
			return inv, nil
		}
		clients = []string{scope.ClientCode}
	default:
		var err error
		if clients, err = a.ListClients(ctx); err != nil {
			return nil, err
		}
	}

	owners := make(map[string]string)
	for _, code := range clients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clientKey := entity.ClientKey(code)
		if c, err := a.readClientAt(code); err != nil {
			fail(clientKey, clientInfoPath(code), err)
		} else if err := c.Validate(); err != nil {
			fail(clientKey, clientInfoPath(code), errors.ParseError(clientInfoPath(code), err))
		} else {
			inv.Clients = append(inv.Clients, c)
			see(clientKey, c.ContentHash())
		}

		reqs := []string{scope.ReqID}
		if scope.ReqID == "" {
			var err error
			if reqs, err = a.ListRequisitions(ctx, code); err != nil {
				return nil, err
			}
		}
		for _, reqID := range reqs {
			reqKey := entity.RequisitionKey(reqID)
			if owner, dup := owners[reqID]; dup {
				rel := requisitionDir(code, reqID)
				inv.Errors = append(inv.Errors, ports.FileError{
					Path: rel,
					Kind: entity.KindRequisition,
					Key:  reqKey.String(),
					Err:  errors.ParseError(rel, fmt.Errorf("requisition id already used by client %s", owner)),
				})
				continue
			}
			owners[reqID] = code
			a.remember(reqID, code)

			if r, err := a.readRequisitionAt(code, reqID); err != nil {
				fail(reqKey, requisitionPath(code, reqID), err)
			} else {
				inv.Requisitions = append(inv.Requisitions, r)
				see(reqKey, r.ContentHash())
			}

			scan, _, err := a.scanRequisition(ctx, code, reqID)
			if err != nil {
				return nil, err
			}
			inv.Candidates = append(inv.Candidates, scan.Candidates...)
			inv.Batches = append(inv.Batches, scan.Batches...)
			inv.Assessments = append(inv.Assessments, scan.Assessments...)
			inv.Errors = append(inv.Errors, scan.Errors...)
			for kind, keys := range scan.Seen {
				if inv.Seen[kind] == nil {
					inv.Seen[kind] = make(map[string]string)
				}
				for k, h := range keys {
					inv.Seen[kind][k] = h
				}
			}
		}
	}
	return inv, nil
}
