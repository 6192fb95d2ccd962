package journal

import (
	"context"
	"fmt"
	"raafstore/internal/core/ports"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ ports.Journal = (*MemoryJournal)(nil)

// MemoryJournal keeps entries for the life of the process. It backs the dual-write
// path when no journal file is configured.
type MemoryJournal struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string]ports.JournalEntry
	closed  bool
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]ports.JournalEntry)}
}

func (m *MemoryJournal) Record(_ context.Context, entry ports.JournalEntry) error {
	if entry.Key == "" || entry.Kind == "" {
		return fmt.Errorf("journal entry needs a kind and key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("journal closed")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	if entry.Operation == "" {
		entry.Operation = "write"
	}
	id := string(entry.Kind) + ":" + entry.Key
	if prev, ok := m.entries[id]; ok {
		entry.ID, entry.UID = prev.ID, prev.UID
		entry.Attempts = prev.Attempts + 1
	} else {
		m.nextID++
		entry.ID, entry.UID = m.nextID, uuid.NewString()
		entry.Attempts = 1
	}
	m.entries[id] = entry
	return nil
}

func (m *MemoryJournal) Pending(_ context.Context, scope ports.Scope, limit int) ([]ports.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.JournalEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if scope.ClientCode != "" && e.ClientCode != scope.ClientCode {
			continue
		}
		if scope.ReqID != "" && e.ReqID != scope.ReqID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryJournal) Ack(_ context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if drop[e.ID] {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryJournal) PendingCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
