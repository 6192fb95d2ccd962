package journal

import (
	"database/sql"
	"fmt"
)

func migrateJournalSchema(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("journal db is nil")
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS reconcile_journal (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  entry_uid TEXT NOT NULL UNIQUE,
  kind TEXT NOT NULL,
  natural_key TEXT NOT NULL,
  client_code TEXT NOT NULL DEFAULT '',
  req_id TEXT NOT NULL DEFAULT '',
  operation TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 1,
  recorded_at INTEGER NOT NULL,
  last_error TEXT NOT NULL DEFAULT '',
  UNIQUE (kind, natural_key)
);
CREATE INDEX IF NOT EXISTS idx_reconcile_journal_scope ON reconcile_journal(client_code, req_id, id);
`)
	if err != nil {
		return fmt.Errorf("migrate journal schema: %w", err)
	}
	return nil
}
