package ports

import (
	"context"
	"raafstore/internal/core/entity"
	"time"
)

// Scope narrows a scan, sweep or journal query to one client or one requisition.
// The zero Scope covers the whole tree.
type Scope struct {
	ClientCode string
	ReqID      string
}

func (s Scope) IsZero() bool {
	return s.ClientCode == "" && s.ReqID == ""
}

func (s Scope) String() string {
	switch {
	case s.ReqID != "" && s.ClientCode != "":
		return s.ClientCode + "/" + s.ReqID
	case s.ReqID != "":
		return s.ReqID
	case s.ClientCode != "":
		return s.ClientCode
	}
	return "all"
}

// Contains reports whether an entity owned by (clientCode, reqID) falls inside the scope.
func (s Scope) Contains(clientCode, reqID string) bool {
	if s.ClientCode != "" && s.ClientCode != clientCode {
		return false
	}
	if s.ReqID != "" && reqID != s.ReqID {
		return false
	}
	return true
}

// FileError is one file that could not be turned into an entity during a scan.
type FileError struct {
	Path string
	Kind entity.Kind
	Key  string
	Err  error
}

// FileInventory is the file tree's view of a scope: every parsed entity in dependency
// order plus the hash of every key seen. Keys whose document failed to parse appear in
// Seen with an empty hash.
type FileInventory struct {
	Scope        Scope
	Clients      []entity.Client
	Requisitions []entity.Requisition
	Candidates   []entity.Candidate
	Batches      []entity.Batch
	Assessments  []entity.Assessment
	Seen         map[entity.Kind]map[string]string
	Errors       []FileError
}

// Owner identifies the client and requisition an entity key belongs to.
type Owner struct {
	ClientCode string
	ReqID      string
}

// FileAdapter reads and writes the file-tree representation of entities.
type FileAdapter interface {
	// Read returns found=false, not an error, when the entity's files are absent.
	Read(ctx context.Context, key entity.Key) (entity.Entity, bool, error)
	// Write persists e. resumeText is only used for candidates.
	Write(ctx context.Context, e entity.Entity, resumeText []byte) error
	Scan(ctx context.Context, scope Scope) (*FileInventory, error)
	// OwnerOf resolves the client and requisition behind key from the tree.
	OwnerOf(ctx context.Context, key entity.Key) (Owner, error)
	Root() string
}

// UpsertResult is the surrogate id of an upserted row and whether the call wrote anything.
type UpsertResult struct {
	ID      int64
	Changed bool
	Created bool
}

// Store is the relational side used by the mode controller, the dual-write
// coordinator and the backfill engine.
type Store interface {
	Get(ctx context.Context, key entity.Key) (entity.Entity, error)
	Upsert(ctx context.Context, e entity.Entity) (UpsertResult, error)
	UpsertCandidateWithAssessment(ctx context.Context, c entity.Candidate, a entity.Assessment) (UpsertResult, UpsertResult, error)
	Delete(ctx context.Context, key entity.Key) error
	// KeyHashes maps the key string of every active row of kind inside scope to its content hash.
	KeyHashes(ctx context.Context, kind entity.Kind, scope Scope) (map[string]string, error)
	// ArchiveMissing archives active rows of kind inside scope whose key is not in keep.
	ArchiveMissing(ctx context.Context, kind entity.Kind, keep map[string]string, scope Scope) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// JournalEntry records a dual write whose store half failed.
type JournalEntry struct {
	ID         int64
	UID        string
	Kind       entity.Kind
	Key        string
	ClientCode string
	ReqID      string
	Operation  string
	Error      string
	Attempts   int
	RecordedAt time.Time
}

// Journal keeps keys awaiting reconciliation until a backfill pass acknowledges them.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
	Pending(ctx context.Context, scope Scope, limit int) ([]JournalEntry, error)
	Ack(ctx context.Context, ids []int64) error
	PendingCount(ctx context.Context) (int, error)
	Close() error
}
