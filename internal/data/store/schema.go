package store

import (
	"database/sql"
	"fmt"
)

const SchemaVersion = 3

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS clients (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  client_code TEXT NOT NULL UNIQUE,
  company_name TEXT NOT NULL DEFAULT '',
  industry TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK (status IN ('active', 'inactive', 'prospect')),
  billing TEXT,
  preferences TEXT,
  content_hash TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  archived_at TEXT
);

CREATE TABLE IF NOT EXISTS requisitions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  req_id TEXT NOT NULL UNIQUE,
  client_id INTEGER NOT NULL REFERENCES clients(id),
  title TEXT NOT NULL DEFAULT '',
  salary_min INTEGER NOT NULL DEFAULT 0,
  salary_max INTEGER NOT NULL DEFAULT 0,
  salary_currency TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK (status IN ('active', 'on_hold', 'filled', 'cancelled')),
  threshold_strong REAL NOT NULL,
  threshold_recommend REAL NOT NULL,
  threshold_conditional REAL NOT NULL,
  weight_overrides TEXT,
  special_requirements TEXT,
  content_hash TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  archived_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_requisitions_client ON requisitions(client_id);

CREATE TABLE IF NOT EXISTS candidates (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  requisition_id INTEGER NOT NULL REFERENCES requisitions(id),
  name_normalized TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  source_platform TEXT NOT NULL DEFAULT '',
  batch_label TEXT NOT NULL DEFAULT '',
  resume_paths TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL CHECK (status IN ('pending', 'assessed')),
  content_hash TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  archived_at TEXT,
  UNIQUE (requisition_id, name_normalized)
);
CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(status);

CREATE TABLE IF NOT EXISTS assessments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  candidate_id INTEGER NOT NULL UNIQUE REFERENCES candidates(id),
  requisition_id INTEGER NOT NULL REFERENCES requisitions(id),
  total_score REAL NOT NULL DEFAULT 0,
  max_score REAL NOT NULL DEFAULT 100,
  percentage REAL NOT NULL DEFAULT 0,
  recommendation TEXT NOT NULL DEFAULT ''
    CHECK (recommendation IN ('', 'strong_recommend', 'recommend', 'conditional', 'do_not_recommend')),
  mode TEXT NOT NULL CHECK (mode IN ('ai', 'manual', 'pending')),
  assessed_at TEXT NOT NULL DEFAULT '',
  scores TEXT,
  summary TEXT NOT NULL DEFAULT '',
  key_strengths TEXT NOT NULL DEFAULT '[]',
  areas_of_concern TEXT NOT NULL DEFAULT '[]',
  interview_focus_areas TEXT NOT NULL DEFAULT '[]',
  content_hash TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  archived_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_assessments_requisition ON assessments(requisition_id);

CREATE TABLE IF NOT EXISTS batches (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  requisition_id INTEGER NOT NULL REFERENCES requisitions(id),
  name TEXT NOT NULL,
  kind TEXT NOT NULL CHECK (kind IN ('flat', 'nested')),
  candidate_count INTEGER NOT NULL DEFAULT 0 CHECK (candidate_count >= 0),
  manifest_path TEXT NOT NULL DEFAULT '',
  content_hash TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  archived_at TEXT,
  UNIQUE (requisition_id, name)
);
`,
	},
	{
		version: 2,
		sql: `
CREATE VIEW IF NOT EXISTS dashboard_projection AS
SELECT
  c.client_code AS client_code,
  c.company_name AS company_name,
  c.status AS client_status,
  r.req_id AS req_id,
  r.title AS title,
  r.status AS requisition_status,
  COUNT(cand.id) AS candidate_count,
  COALESCE(SUM(CASE WHEN a.id IS NOT NULL THEN 1 ELSE 0 END), 0) AS assessed_count,
  COALESCE(SUM(CASE WHEN cand.id IS NOT NULL AND a.id IS NULL THEN 1 ELSE 0 END), 0) AS pending_count,
  COALESCE(SUM(CASE WHEN a.recommendation IN ('strong_recommend', 'recommend') THEN 1 ELSE 0 END), 0) AS recommended_count,
  AVG(a.percentage) AS avg_percentage
FROM clients c
LEFT JOIN requisitions r ON r.client_id = c.id AND r.archived_at IS NULL
LEFT JOIN candidates cand ON cand.requisition_id = r.id AND cand.archived_at IS NULL
LEFT JOIN assessments a ON a.candidate_id = cand.id AND a.archived_at IS NULL
WHERE c.archived_at IS NULL
GROUP BY c.id, r.id;

CREATE VIEW IF NOT EXISTS search_projection AS
SELECT
  cand.id AS candidate_id,
  c.client_code AS client_code,
  r.req_id AS req_id,
  r.title AS title,
  cand.name_normalized AS name_normalized,
  cand.display_name AS display_name,
  cand.email AS email,
  cand.source_platform AS source_platform,
  cand.batch_label AS batch_label,
  cand.status AS candidate_status,
  a.total_score AS total_score,
  a.percentage AS percentage,
  a.recommendation AS recommendation,
  a.mode AS mode,
  a.summary AS summary
FROM candidates cand
JOIN requisitions r ON r.id = cand.requisition_id
JOIN clients c ON c.id = r.client_id
LEFT JOIN assessments a ON a.candidate_id = cand.id AND a.archived_at IS NULL
WHERE cand.archived_at IS NULL AND r.archived_at IS NULL;
`,
	},
	{
		version: 3,
		sql: `
CREATE VIRTUAL TABLE IF NOT EXISTS assessment_fts USING fts5(
  summary, key_strengths, areas_of_concern, interview_focus_areas
);

CREATE TRIGGER IF NOT EXISTS assessments_fts_ai AFTER INSERT ON assessments BEGIN
  INSERT INTO assessment_fts(rowid, summary, key_strengths, areas_of_concern, interview_focus_areas)
  VALUES (new.candidate_id, new.summary, new.key_strengths, new.areas_of_concern, new.interview_focus_areas);
END;
CREATE TRIGGER IF NOT EXISTS assessments_fts_au AFTER UPDATE ON assessments BEGIN
  DELETE FROM assessment_fts WHERE rowid = old.candidate_id;
  INSERT INTO assessment_fts(rowid, summary, key_strengths, areas_of_concern, interview_focus_areas)
  VALUES (new.candidate_id, new.summary, new.key_strengths, new.areas_of_concern, new.interview_focus_areas);
END;
CREATE TRIGGER IF NOT EXISTS assessments_fts_ad AFTER DELETE ON assessments BEGIN
  DELETE FROM assessment_fts WHERE rowid = old.candidate_id;
END;

INSERT INTO assessment_fts(rowid, summary, key_strengths, areas_of_concern, interview_focus_areas)
SELECT candidate_id, summary, key_strengths, areas_of_concern, interview_focus_areas FROM assessments;
`,
	},
}

func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_utc TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_migrations version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
