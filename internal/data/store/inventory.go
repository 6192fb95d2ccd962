package store

import (
	"context"
	"database/sql"
	"fmt"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
	"raafstore/internal/core/ports"
	"sort"
	"strings"
)

// inventoryQuery returns key/hash pairs of active rows of kind restricted to scope.
func inventoryQuery(kind entity.Kind, scope ports.Scope) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
	)
	switch kind {
	case entity.KindClient:
		b.WriteString(`SELECT c.client_code, c.content_hash FROM clients c WHERE c.archived_at IS NULL`)
		if scope.ReqID != "" {
			b.WriteString(` AND c.id IN (SELECT client_id FROM requisitions WHERE req_id = ?)`)
			args = append(args, scope.ReqID)
		}
	case entity.KindRequisition:
		b.WriteString(`SELECT r.req_id, r.content_hash FROM requisitions r JOIN clients c ON c.id = r.client_id WHERE r.archived_at IS NULL`)
	case entity.KindCandidate:
		b.WriteString(`SELECT r.req_id || '/' || x.name_normalized, x.content_hash FROM candidates x
JOIN requisitions r ON r.id = x.requisition_id JOIN clients c ON c.id = r.client_id WHERE x.archived_at IS NULL`)
	case entity.KindAssessment:
		b.WriteString(`SELECT r.req_id || '/' || cand.name_normalized, x.content_hash FROM assessments x
JOIN candidates cand ON cand.id = x.candidate_id
JOIN requisitions r ON r.id = x.requisition_id JOIN clients c ON c.id = r.client_id WHERE x.archived_at IS NULL`)
	case entity.KindBatch:
		b.WriteString(`SELECT r.req_id || '/' || x.name, x.content_hash FROM batches x
JOIN requisitions r ON r.id = x.requisition_id JOIN clients c ON c.id = r.client_id WHERE x.archived_at IS NULL`)
	default:
		return "", nil, errors.New(errors.CodeNotSupported, fmt.Sprintf("unsupported kind %q", kind))
	}
	if scope.ClientCode != "" {
		b.WriteString(` AND c.client_code = ?`)
		args = append(args, scope.ClientCode)
	}
	if scope.ReqID != "" && kind != entity.KindClient {
		b.WriteString(` AND r.req_id = ?`)
		args = append(args, scope.ReqID)
	}
	return b.String(), args, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func keyHashes(ctx context.Context, q querier, kind entity.Kind, scope ports.Scope) (map[string]string, error) {
	query, args, err := inventoryQuery(kind, scope)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, hash string
		if err := rows.Scan(&key, &hash); err != nil {
			return nil, err
		}
		out[key] = hash
	}
	return out, rows.Err()
}

// KeyHashes maps the natural key of every active row of kind inside scope to its
// content hash. Under a requisition scope the client kind yields the owning client.
func (s *Store) KeyHashes(ctx context.Context, kind entity.Kind, scope ports.Scope) (map[string]string, error) {
	op := "inventory " + string(kind)
	var out map[string]string
	err := s.withRetry(op, func() error {
		var err error
		out, err = keyHashes(ctx, s.db, kind, scope)
		return err
	})
	if err != nil {
		return nil, s.classify(op, kind, "", err)
	}
	return out, nil
}

// ArchiveMissing soft-deletes active rows of kind inside scope whose key is not in
// keep. It returns the archived keys in sorted order.
func (s *Store) ArchiveMissing(ctx context.Context, kind entity.Kind, keep map[string]string, scope ports.Scope) ([]string, error) {
	op := "archive " + string(kind)
	var archived []string
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		archived = archived[:0]
		current, err := keyHashes(ctx, tx, kind, scope)
		if err != nil {
			return err
		}
		now := s.timestamp()
		for raw := range current {
			if _, ok := keep[raw]; ok {
				continue
			}
			key, err := entity.ParseKey(kind, raw)
			if err != nil {
				return err
			}
			if _, err := archiveKey(ctx, tx, key, now); err != nil {
				return err
			}
			archived = append(archived, raw)
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(op, kind, "", err)
	}
	sort.Strings(archived)
	return archived, nil
}

func archiveKey(ctx context.Context, tx *sql.Tx, key entity.Key, now string) (bool, error) {
	switch key.Kind {
	case entity.KindClient:
		return archiveClient(ctx, tx, key, now)
	case entity.KindRequisition:
		return archiveRequisition(ctx, tx, key, now)
	case entity.KindCandidate:
		return archiveCandidate(ctx, tx, key, now)
	case entity.KindAssessment:
		return archiveAssessment(ctx, tx, key, now)
	case entity.KindBatch:
		return archiveBatch(ctx, tx, key, now)
	}
	return false, errors.New(errors.CodeNotSupported, fmt.Sprintf("unsupported kind %q", key.Kind))
}
