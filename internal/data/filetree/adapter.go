package filetree

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/util"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

var _ ports.FileAdapter = (*Adapter)(nil)

// Adapter reads and writes entities in the recruiting file tree rooted at root.
// Reads never lock; every write holds an exclusive lock on the path it replaces.
type Adapter struct {
	root    string
	exclude []glob.Glob
	locks   *util.KeyedMutex

	mu       sync.RWMutex
	reqIndex map[string]string
}

func New(root string, excludes []string) (*Adapter, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("file tree root must not be empty")
	}
	absRoot, err := filepath.Abs(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve file tree root %q: %w", cleanRoot, err)
	}
	if info, err := os.Stat(absRoot); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("file tree root %q is not a directory", absRoot)
	}

	compiled := make([]glob.Glob, 0, len(excludes))
	for _, pattern := range excludes {
		pattern = util.NormalizePatternPath(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}

	return &Adapter{
		root:     absRoot,
		exclude:  compiled,
		locks:    util.NewKeyedMutex(),
		reqIndex: make(map[string]string),
	}, nil
}

func (a *Adapter) Root() string {
	return a.root
}

func (a *Adapter) abs(rel string) string {
	return filepath.Join(a.root, filepath.FromSlash(rel))
}

// excluded matches rel and its base name against the exclude globs.
func (a *Adapter) excluded(rel string) bool {
	base := path.Base(rel)
	if strings.HasPrefix(base, ".") {
		return true
	}
	for _, g := range a.exclude {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

// readFile returns found=false when rel does not exist.
func (a *Adapter) readFile(rel string) ([]byte, bool, error) {
	raw, err := os.ReadFile(a.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", rel, err)
	}
	return raw, true, nil
}

func (a *Adapter) dirExists(rel string) bool {
	info, err := os.Stat(a.abs(rel))
	return err == nil && info.IsDir()
}

// readDir lists rel sorted by name, treating a missing directory as empty.
func (a *Adapter) readDir(rel string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(a.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	return entries, nil
}

func (a *Adapter) listDirs(rel string) ([]string, error) {
	entries, err := a.readDir(rel)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || a.excluded(path.Join(rel, e.Name())) {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// ListClients returns every client code in the tree.
func (a *Adapter) ListClients(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.listDirs(clientsDir)
}

// ListRequisitions returns the requisition ids stored under clientCode.
func (a *Adapter) ListRequisitions(ctx context.Context, clientCode string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.listDirs(path.Join(clientDir(clientCode), requisitionsDir))
}

// LocateRequisition returns the client owning reqID, rebuilding the index on a miss.
func (a *Adapter) LocateRequisition(ctx context.Context, reqID string) (string, bool, error) {
	a.mu.RLock()
	code, ok := a.reqIndex[reqID]
	a.mu.RUnlock()
	if ok && a.dirExists(requisitionDir(code, reqID)) {
		return code, true, nil
	}
	if err := a.refreshIndex(ctx); err != nil {
		return "", false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	code, ok = a.reqIndex[reqID]
	return code, ok, nil
}

// refreshIndex rebuilds the requisition index. Clients are visited in sorted order and
// the first client claiming an id wins.
func (a *Adapter) refreshIndex(ctx context.Context) error {
	clients, err := a.ListClients(ctx)
	if err != nil {
		return err
	}
	index := make(map[string]string)
	for _, code := range clients {
		reqs, err := a.ListRequisitions(ctx, code)
		if err != nil {
			return err
		}
		for _, reqID := range reqs {
			if _, taken := index[reqID]; !taken {
				index[reqID] = code
			}
		}
	}
	a.mu.Lock()
	a.reqIndex = index
	a.mu.Unlock()
	return nil
}

func (a *Adapter) remember(reqID, clientCode string) {
	a.mu.Lock()
	a.reqIndex[reqID] = clientCode
	a.mu.Unlock()
}

// OwnerOf resolves the client and requisition a key belongs to.
func (a *Adapter) OwnerOf(ctx context.Context, key entity.Key) (ports.Owner, error) {
	if key.Kind == entity.KindClient {
		return ports.Owner{ClientCode: key.ClientCode}, nil
	}
	code, ok, err := a.LocateRequisition(ctx, key.ReqID)
	if err != nil {
		return ports.Owner{}, err
	}
	if !ok {
		return ports.Owner{ReqID: key.ReqID}, nil
	}
	return ports.Owner{ClientCode: code, ReqID: key.ReqID}, nil
}

// Read dispatches to the kind-specific reader.
func (a *Adapter) Read(ctx context.Context, key entity.Key) (entity.Entity, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, errors.Wrap(err, errors.CodeValidationError, "invalid key")
	}
	var (
		e     entity.Entity
		found bool
		err   error
	)
	switch key.Kind {
	case entity.KindClient:
		var c entity.Client
		c, found, err = a.ReadClient(ctx, key.ClientCode)
		e = c
	case entity.KindRequisition:
		var r entity.Requisition
		r, found, err = a.ReadRequisition(ctx, key.ReqID)
		e = r
	case entity.KindCandidate:
		var c entity.Candidate
		c, found, err = a.ReadCandidate(ctx, key)
		e = c
	case entity.KindAssessment:
		var as entity.Assessment
		as, found, err = a.ReadAssessment(ctx, key)
		e = as
	case entity.KindBatch:
		var b entity.Batch
		b, found, err = a.ReadBatch(ctx, key)
		e = b
	default:
		return nil, false, errors.New(errors.CodeNotSupported, fmt.Sprintf("unknown kind %q", key.Kind))
	}
	if err != nil || !found {
		return nil, found, err
	}
	return e, true, nil
}

// ReadClient loads clients/<code>. A client directory without client_info.yaml is an
// active client with no other attributes.
func (a *Adapter) ReadClient(ctx context.Context, code string) (entity.Client, bool, error) {
	if err := ctx.Err(); err != nil {
		return entity.Client{}, false, err
	}
	if !a.dirExists(clientDir(code)) || a.excluded(clientDir(code)) {
		return entity.Client{}, false, nil
	}
	c, err := a.readClientAt(code)
	if err != nil {
		return entity.Client{}, false, err
	}
	return c, true, nil
}

func (a *Adapter) readClientAt(code string) (entity.Client, error) {
	rel := clientInfoPath(code)
	raw, ok, err := a.readFile(rel)
	if err != nil {
		return entity.Client{}, errors.ParseError(rel, err)
	}
	if !ok {
		return entity.Client{Code: code, Status: entity.ClientActive}, nil
	}
	return entity.ParseClient(raw, rel, code)
}

// ReadRequisition loads a requisition by its global id.
func (a *Adapter) ReadRequisition(ctx context.Context, reqID string) (entity.Requisition, bool, error) {
	code, ok, err := a.LocateRequisition(ctx, reqID)
	if err != nil || !ok {
		return entity.Requisition{}, false, err
	}
	r, err := a.readRequisitionAt(code, reqID)
	if err != nil {
		return entity.Requisition{}, false, err
	}
	return r, true, nil
}

func (a *Adapter) readRequisitionAt(clientCode, reqID string) (entity.Requisition, error) {
	rel := requisitionPath(clientCode, reqID)
	raw, ok, err := a.readFile(rel)
	if err != nil {
		return entity.Requisition{}, errors.ParseError(rel, err)
	}
	if !ok {
		return entity.Requisition{
			ID:         reqID,
			ClientCode: clientCode,
			Status:     entity.RequisitionActive,
			Thresholds: entity.DefaultThresholds,
		}, nil
	}
	return entity.ParseRequisition(raw, rel, reqID, clientCode)
}

// ReadCandidate derives the candidate from every artifact in its requisition.
func (a *Adapter) ReadCandidate(ctx context.Context, key entity.Key) (entity.Candidate, bool, error) {
	scan, found, err := a.ScanRequisition(ctx, key.ReqID)
	if err != nil || !found {
		return entity.Candidate{}, false, err
	}
	if err := scan.errorFor(key); err != nil {
		return entity.Candidate{}, false, err
	}
	for _, c := range scan.Candidates {
		if c.Name == key.Name {
			return c, true, nil
		}
	}
	return entity.Candidate{}, false, nil
}

// ReadAssessment loads the assessment document of one candidate.
func (a *Adapter) ReadAssessment(ctx context.Context, key entity.Key) (entity.Assessment, bool, error) {
	code, ok, err := a.LocateRequisition(ctx, key.ReqID)
	if err != nil || !ok {
		return entity.Assessment{}, false, err
	}
	rel, ok, err := a.findAssessment(code, key.ReqID, key.Name)
	if err != nil || !ok {
		return entity.Assessment{}, false, err
	}
	raw, ok, err := a.readFile(rel)
	if err != nil {
		return entity.Assessment{}, false, errors.ParseError(rel, err)
	}
	if !ok {
		return entity.Assessment{}, false, nil
	}
	as, _, err := entity.ParseAssessment(raw, rel, key.ReqID, key.Name)
	if err != nil {
		return entity.Assessment{}, false, err
	}
	return as, true, nil
}

// findAssessment locates the assessment file whose stem normalizes to name.
func (a *Adapter) findAssessment(clientCode, reqID, name string) (string, bool, error) {
	direct := assessmentPath(clientCode, reqID, name)
	if _, err := os.Stat(a.abs(direct)); err == nil {
		return direct, true, nil
	}
	dir := path.Join(requisitionDir(clientCode, reqID), assessmentsDir)
	entries, err := a.readDir(dir)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		stem, ok := assessmentStem(e)
		if !ok || a.excluded(path.Join(dir, e.Name())) {
			continue
		}
		if entity.NormalizeName(stem) == name {
			return path.Join(dir, e.Name()), true, nil
		}
	}
	return "", false, nil
}

func assessmentStem(e fs.DirEntry) (string, bool) {
	if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), assessmentSuffix) {
		return "", false
	}
	return e.Name()[:len(e.Name())-len(assessmentSuffix)], true
}

// ReadBatches returns every batch of a requisition; the first malformed manifest fails the read.
func (a *Adapter) ReadBatches(ctx context.Context, reqID string) ([]entity.Batch, bool, error) {
	scan, found, err := a.ScanRequisition(ctx, reqID)
	if err != nil || !found {
		return nil, false, err
	}
	for _, fe := range scan.Errors {
		if fe.Kind == entity.KindBatch {
			return nil, false, fe.Err
		}
	}
	return scan.Batches, true, nil
}

func (a *Adapter) ReadBatch(ctx context.Context, key entity.Key) (entity.Batch, bool, error) {
	scan, found, err := a.ScanRequisition(ctx, key.ReqID)
	if err != nil || !found {
		return entity.Batch{}, false, err
	}
	if err := scan.errorFor(key); err != nil {
		return entity.Batch{}, false, err
	}
	for _, b := range scan.Batches {
		if b.Name == key.Name {
			return b, true, nil
		}
	}
	return entity.Batch{}, false, nil
}
