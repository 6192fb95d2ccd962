package journal

import (
	"context"
	"path/filepath"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/ports"
	"testing"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := OpenSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func journals(t *testing.T) map[string]ports.Journal {
	return map[string]ports.Journal{
		"sqlite": newTestJournal(t),
		"memory": NewMemoryJournal(),
	}
}

func TestJournal_RecordPendingAck(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entries := []ports.JournalEntry{
				{Kind: entity.KindCandidate, Key: "REQ-1/jane_doe", ClientCode: "acme", ReqID: "REQ-1", Error: "database is locked"},
				{Kind: entity.KindClient, Key: "beta", ClientCode: "beta"},
			}
			for _, e := range entries {
				if err := j.Record(ctx, e); err != nil {
					t.Fatalf("record: %v", err)
				}
			}

			all, err := j.Pending(ctx, ports.Scope{}, 0)
			if err != nil {
				t.Fatalf("pending: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(all))
			}
			if all[0].Key != "REQ-1/jane_doe" || all[0].Operation != "write" || all[0].UID == "" {
				t.Fatalf("unexpected first entry: %+v", all[0])
			}

			scoped, err := j.Pending(ctx, ports.Scope{ReqID: "REQ-1"}, 0)
			if err != nil {
				t.Fatalf("pending scoped: %v", err)
			}
			if len(scoped) != 1 || scoped[0].Kind != entity.KindCandidate {
				t.Fatalf("expected the candidate entry only, got %+v", scoped)
			}

			if err := j.Ack(ctx, []int64{scoped[0].ID}); err != nil {
				t.Fatalf("ack: %v", err)
			}
			n, err := j.PendingCount(ctx)
			if err != nil {
				t.Fatalf("pending count: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected 1 pending entry, got %d", n)
			}
		})
	}
}

func TestJournal_RecordingAgainBumpsAttempts(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := ports.JournalEntry{Kind: entity.KindAssessment, Key: "REQ-1/jane_doe", ReqID: "REQ-1", Error: "first"}
			if err := j.Record(ctx, e); err != nil {
				t.Fatalf("record: %v", err)
			}
			e.Error = "second"
			if err := j.Record(ctx, e); err != nil {
				t.Fatalf("record again: %v", err)
			}
			rows, err := j.Pending(ctx, ports.Scope{}, 10)
			if err != nil {
				t.Fatalf("pending: %v", err)
			}
			if len(rows) != 1 {
				t.Fatalf("expected one entry per key, got %d", len(rows))
			}
			if rows[0].Attempts != 2 || rows[0].Error != "second" {
				t.Fatalf("expected attempts=2 error=second, got %+v", rows[0])
			}
		})
	}
}

func TestJournal_RejectsEntriesWithoutKey(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			if err := j.Record(context.Background(), ports.JournalEntry{Kind: entity.KindClient}); err == nil {
				t.Fatal("expected error for an entry without key")
			}
		})
	}
}

func TestSQLiteJournal_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenSQLiteJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.Record(context.Background(), ports.JournalEntry{Kind: entity.KindBatch, Key: "REQ-1/b1", ReqID: "REQ-1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j, err = OpenSQLiteJournal(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()
	rows, err := j.Pending(context.Background(), ports.Scope{}, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != "REQ-1/b1" {
		t.Fatalf("expected the batch entry to survive a restart, got %+v", rows)
	}
}

func TestSQLiteJournal_RejectsDirectory(t *testing.T) {
	if _, err := OpenSQLiteJournal(t.TempDir()); err == nil {
		t.Fatal("expected error for directory path")
	}
}
