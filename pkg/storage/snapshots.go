package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/apiwatch/apiwatch/pkg/canonical"
)

// ErrSnapshotNotFound is returned for lookups of unknown snapshot ids.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// RecordSnapshot appends a snapshot for a target. If the document's hash
// equals the most recent stored snapshot's hash, nothing is written and the
// existing id is returned with created=false, so polling noise never
// produces false changes. Retention pruning happens in the same
// transaction and never deletes either of the two most recent snapshots.
//
// Callers must serialize RecordSnapshot calls for the same target; the
// poller holds a per-target lock for the whole cycle.
func (d *DB) RecordSnapshot(ctx context.Context, targetID int64, doc *canonical.Document) (int64, bool, error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var latestID int64
	var latestHash string
	err = tx.QueryRowContext(ctx,
		`SELECT id, doc_hash FROM snapshots WHERE target_id = ? ORDER BY id DESC LIMIT 1`,
		targetID).Scan(&latestID, &latestHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return 0, false, err
	case latestHash == doc.Hash:
		if err = tx.Commit(); err != nil {
			return 0, false, err
		}
		return latestID, false, nil
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots(target_id, captured_at, doc_hash, doc) VALUES(?,?,?,?)`,
		targetID, fmtTime(time.Now()), doc.Hash, canonical.Render(doc.Root))
	if err != nil {
		return 0, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}

	// Prune beyond retention, oldest first. Snapshots referenced by a
	// changelog entry are kept so stored entries stay resolvable.
	_, err = tx.ExecContext(ctx, `
DELETE FROM snapshots WHERE target_id = ? AND id NOT IN (
  SELECT id FROM snapshots WHERE target_id = ? ORDER BY id DESC LIMIT ?
) AND id NOT IN (
  SELECT from_snapshot FROM changelog_entries WHERE target_id = ?
  UNION SELECT to_snapshot FROM changelog_entries WHERE target_id = ?
)`, targetID, targetID, d.retention, targetID, targetID)
	if err != nil {
		return 0, false, err
	}

	if err = tx.Commit(); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// LatestTwo returns the two most recent snapshots for a target, newest
// last. ok is false when fewer than two exist.
func (d *DB) LatestTwo(ctx context.Context, targetID int64) (prev, curr Snapshot, ok bool, err error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, target_id, captured_at, doc_hash, doc FROM snapshots
WHERE target_id = ? ORDER BY id DESC LIMIT 2`, targetID)
	if err != nil {
		return Snapshot{}, Snapshot{}, false, err
	}
	defer rows.Close()

	var got []Snapshot
	for rows.Next() {
		var s Snapshot
		var capturedAt string
		if err := rows.Scan(&s.ID, &s.TargetID, &capturedAt, &s.Hash, &s.Doc); err != nil {
			return Snapshot{}, Snapshot{}, false, err
		}
		s.CapturedAt = parseTime(capturedAt)
		got = append(got, s)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, Snapshot{}, false, err
	}
	if len(got) < 2 {
		return Snapshot{}, Snapshot{}, false, nil
	}
	return got[1], got[0], true, nil
}

// GetSnapshot returns one snapshot by id.
func (d *DB) GetSnapshot(ctx context.Context, id int64) (Snapshot, error) {
	var s Snapshot
	var capturedAt string
	err := d.sql.QueryRowContext(ctx,
		`SELECT id, target_id, captured_at, doc_hash, doc FROM snapshots WHERE id = ?`, id).
		Scan(&s.ID, &s.TargetID, &capturedAt, &s.Hash, &s.Doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	s.CapturedAt = parseTime(capturedAt)
	return s, err
}

// SnapshotCount returns the number of stored snapshots for a target.
func (d *DB) SnapshotCount(ctx context.Context, targetID int64) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE target_id = ?`, targetID).Scan(&n)
	return n, err
}
