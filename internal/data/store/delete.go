package store

import (
	"context"
	"database/sql"
	"fmt"
	"raafstore/internal/core/entity"
	"raafstore/internal/core/errors"
)

// Delete soft-deletes the row behind key. Clients become inactive and requisitions
// cancelled; other kinds are archived. Archived rows disappear from reads.
func (s *Store) Delete(ctx context.Context, key entity.Key) error {
	if err := key.Validate(); err != nil {
		return errors.Wrap(err, errors.CodeValidationError, "invalid key")
	}
	switch key.Kind {
	case entity.KindClient:
		return s.DeleteClient(ctx, key.ClientCode)
	case entity.KindRequisition:
		return s.DeleteRequisition(ctx, key.ReqID)
	case entity.KindCandidate:
		return s.DeleteCandidate(ctx, key)
	case entity.KindAssessment:
		return s.DeleteAssessment(ctx, key)
	case entity.KindBatch:
		return s.DeleteBatch(ctx, key)
	}
	return errors.New(errors.CodeNotSupported, fmt.Sprintf("unsupported kind %q", key.Kind))
}

func (s *Store) softDelete(ctx context.Context, key entity.Key, fn func(tx *sql.Tx, now string) (bool, error)) error {
	op := "delete " + string(key.Kind)
	found := false
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		found, err = fn(tx, s.timestamp())
		return err
	})
	if err != nil {
		return s.classify(op, key.Kind, key.String(), err)
	}
	if !found {
		return errors.NotFound(string(key.Kind), key.String())
	}
	return nil
}

func (s *Store) DeleteClient(ctx context.Context, code string) error {
	return s.softDelete(ctx, entity.ClientKey(code), func(tx *sql.Tx, now string) (bool, error) {
		return setStatus(ctx, tx, clientSelect+` WHERE c.client_code = ? AND c.archived_at IS NULL`, scanClient,
			func(c entity.Client) entity.Entity {
				c.Status = entity.ClientInactive
				return c
			},
			`UPDATE clients SET status = ?, content_hash = ?, updated_at = ? WHERE client_code = ?`,
			string(entity.ClientInactive), now, code)
	})
}

func (s *Store) DeleteRequisition(ctx context.Context, reqID string) error {
	return s.softDelete(ctx, entity.RequisitionKey(reqID), func(tx *sql.Tx, now string) (bool, error) {
		return setStatus(ctx, tx, requisitionSelect+` WHERE r.req_id = ? AND r.archived_at IS NULL`, scanRequisition,
			func(r entity.Requisition) entity.Entity {
				r.Status = entity.RequisitionCancelled
				return r
			},
			`UPDATE requisitions SET status = ?, content_hash = ?, updated_at = ? WHERE req_id = ?`,
			string(entity.RequisitionCancelled), now, reqID)
	})
}

// setStatus loads a row, applies the status change and rewrites status plus hash.
func setStatus[T any](ctx context.Context, tx *sql.Tx, query string, scan func(rowScanner) (T, error),
	apply func(T) entity.Entity, update string, status, now, key string) (bool, error) {
	v, err := scan(tx.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	changed := apply(v)
	_, err = tx.ExecContext(ctx, update, status, changed.ContentHash(), now, key)
	return err == nil, err
}

func (s *Store) DeleteCandidate(ctx context.Context, key entity.Key) error {
	return s.softDelete(ctx, key, func(tx *sql.Tx, now string) (bool, error) {
		return archiveCandidate(ctx, tx, key, now)
	})
}

func (s *Store) DeleteAssessment(ctx context.Context, key entity.Key) error {
	return s.softDelete(ctx, key, func(tx *sql.Tx, now string) (bool, error) {
		return archiveAssessment(ctx, tx, key, now)
	})
}

func (s *Store) DeleteBatch(ctx context.Context, key entity.Key) error {
	return s.softDelete(ctx, key, func(tx *sql.Tx, now string) (bool, error) {
		return archiveBatch(ctx, tx, key, now)
	})
}

func archiveClient(ctx context.Context, tx *sql.Tx, key entity.Key, now string) (bool, error) {
	return execArchive(ctx, tx, `
UPDATE clients SET archived_at = ?, updated_at = ?
WHERE client_code = ? AND archived_at IS NULL`, now, now, key.ClientCode)
}

func archiveRequisition(ctx context.Context, tx *sql.Tx, key entity.Key, now string) (bool, error) {
	return execArchive(ctx, tx, `
UPDATE requisitions SET archived_at = ?, updated_at = ?
WHERE req_id = ? AND archived_at IS NULL`, now, now, key.ReqID)
}

// archiveCandidate archives the candidate together with its assessment.
func archiveCandidate(ctx context.Context, tx *sql.Tx, key entity.Key, now string) (bool, error) {
	if _, err := tx.ExecContext(ctx, `
UPDATE assessments SET archived_at = ?, updated_at = ?
WHERE archived_at IS NULL AND candidate_id IN (
  SELECT cand.id FROM candidates cand JOIN requisitions r ON r.id = cand.requisition_id
  WHERE r.req_id = ? AND cand.name_normalized = ?
)`, now, now, key.ReqID, key.Name); err != nil {
		return false, err
	}
	return execArchive(ctx, tx, `
UPDATE candidates SET archived_at = ?, updated_at = ?
WHERE archived_at IS NULL AND name_normalized = ?
  AND requisition_id = (SELECT id FROM requisitions WHERE req_id = ?)`, now, now, key.Name, key.ReqID)
}

// archiveAssessment archives the assessment and moves an active candidate back to pending.
func archiveAssessment(ctx context.Context, tx *sql.Tx, key entity.Key, now string) (bool, error) {
	var candID int64
	err := tx.QueryRowContext(ctx, `
SELECT cand.id FROM assessments a
JOIN candidates cand ON cand.id = a.candidate_id
JOIN requisitions r ON r.id = a.requisition_id
WHERE r.req_id = ? AND cand.name_normalized = ? AND a.archived_at IS NULL`, key.ReqID, key.Name).Scan(&candID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE assessments SET archived_at = ?, updated_at = ? WHERE candidate_id = ?`, now, now, candID); err != nil {
		return false, err
	}
	if err := setCandidateStatus(ctx, tx, candID, entity.CandidatePending, now); err != nil {
		return false, err
	}
	return true, nil
}

func archiveBatch(ctx context.Context, tx *sql.Tx, key entity.Key, now string) (bool, error) {
	return execArchive(ctx, tx, `
UPDATE batches SET archived_at = ?, updated_at = ?
WHERE archived_at IS NULL AND name = ?
  AND requisition_id = (SELECT id FROM requisitions WHERE req_id = ?)`, now, now, key.Name, key.ReqID)
}

func execArchive(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
