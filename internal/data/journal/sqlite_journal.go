// Package journal records dual writes whose store half failed so a later backfill
// pass can repair them.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/observability"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

var _ ports.Journal = (*SQLiteJournal)(nil)

type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("journal path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("journal path %q is a directory", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal sqlite %q: %w", cleanPath, err)
	}
	if err := migrateJournalSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &SQLiteJournal{db: db, now: time.Now}
	if n, err := j.PendingCount(context.Background()); err == nil {
		observability.JournalDepth.Set(float64(n))
	}
	return j, nil
}

// Record adds a key to the journal. Recording a key that is already pending bumps its
// attempt count and replaces the last error.
func (j *SQLiteJournal) Record(ctx context.Context, entry ports.JournalEntry) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	if entry.Key == "" || entry.Kind == "" {
		return fmt.Errorf("journal entry needs a kind and key")
	}
	recorded := entry.RecordedAt
	if recorded.IsZero() {
		recorded = j.now()
	}
	op := entry.Operation
	if op == "" {
		op = "write"
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO reconcile_journal (entry_uid, kind, natural_key, client_code, req_id, operation, attempts, recorded_at, last_error)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(kind, natural_key) DO UPDATE SET
  client_code=excluded.client_code,
  req_id=excluded.req_id,
  operation=excluded.operation,
  attempts=reconcile_journal.attempts + 1,
  recorded_at=excluded.recorded_at,
  last_error=excluded.last_error
`, uuid.NewString(), string(entry.Kind), entry.Key, entry.ClientCode, entry.ReqID, op, recorded.UTC().UnixMilli(), entry.Error)
	if err != nil {
		return fmt.Errorf("record journal entry %s %s: %w", entry.Kind, entry.Key, err)
	}
	j.refreshDepth(ctx)
	return nil
}

// Pending lists entries inside scope, oldest first. limit <= 0 returns everything.
func (j *SQLiteJournal) Pending(ctx context.Context, scope ports.Scope, limit int) ([]ports.JournalEntry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	query := `
SELECT id, entry_uid, kind, natural_key, client_code, req_id, operation, attempts, recorded_at, last_error
FROM reconcile_journal
WHERE (? = '' OR client_code = ?) AND (? = '' OR req_id = ?)
ORDER BY id ASC`
	args := []any{scope.ClientCode, scope.ClientCode, scope.ReqID, scope.ReqID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []ports.JournalEntry
	for rows.Next() {
		var (
			e        ports.JournalEntry
			kind     string
			recorded int64
		)
		if err := rows.Scan(&e.ID, &e.UID, &kind, &e.Key, &e.ClientCode, &e.ReqID, &e.Operation, &e.Attempts, &recorded, &e.Error); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Kind = entity.Kind(kind)
		e.RecordedAt = time.UnixMilli(recorded).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return out, nil
}

func (j *SQLiteJournal) Ack(ctx context.Context, ids []int64) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal ack tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM reconcile_journal WHERE id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare journal ack: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ack journal row %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal ack tx: %w", err)
	}
	j.refreshDepth(ctx)
	return nil
}

func (j *SQLiteJournal) PendingCount(ctx context.Context) (int, error) {
	if j == nil || j.db == nil {
		return 0, fmt.Errorf("journal not initialized")
	}
	var count int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM reconcile_journal`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count journal rows: %w", err)
	}
	return count, nil
}

func (j *SQLiteJournal) refreshDepth(ctx context.Context) {
	if n, err := j.PendingCount(ctx); err == nil {
		observability.JournalDepth.Set(float64(n))
	}
}

func (j *SQLiteJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
