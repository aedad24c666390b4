package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apiwatch/apiwatch/pkg/classify"
	"github.com/apiwatch/apiwatch/pkg/diff"
)

// ErrEntryNotFound is returned for lookups of unknown changelog entries.
var ErrEntryNotFound = errors.New("changelog entry not found")

// WriteChangelog persists one comparison as an immutable changelog entry.
// It is idempotent on (targetID, fromID, toID): a second call returns the
// existing entry with created=false. An empty record list is a no-op and
// returns (nil, false, nil).
//
// The entry starts with dispatched_at NULL; marking it dispatched is a
// separate step, so a crash between write and dispatch is recoverable by
// scanning for undispatched entries.
//
// Passing snapshots that belong to a different target is a caller bug and
// panics rather than producing a cross-target entry.
func (d *DB) WriteChangelog(ctx context.Context, targetID, fromID, toID int64, records []classify.ClassifiedRecord) (*ChangelogEntry, bool, error) {
	if len(records) == 0 {
		return nil, false, nil
	}

	for _, id := range []int64{fromID, toID} {
		snap, err := d.GetSnapshot(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("resolving snapshot %d: %w", id, err)
		}
		if snap.TargetID != targetID {
			panic(fmt.Sprintf("storage: snapshot %d belongs to target %d, not %d", id, snap.TargetID, targetID))
		}
	}

	severity, breaking := classify.Aggregate(records)
	entryID := uuid.New().String()
	now := fmtTime(time.Now())

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Concurrent cycles can race to this insert; the UNIQUE constraint makes
	// the loser fall through to the existing-entry lookup.
	_, err = tx.ExecContext(ctx, `
INSERT INTO changelog_entries(id, target_id, from_snapshot, to_snapshot, severity, breaking, created_at)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(target_id, from_snapshot, to_snapshot) DO NOTHING`,
		entryID, targetID, fromID, toID, severity.String(), boolToInt(breaking), now)
	if err != nil {
		return nil, false, err
	}

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM changelog_entries WHERE target_id = ? AND from_snapshot = ? AND to_snapshot = ?`,
		targetID, fromID, toID).Scan(&existingID)
	if err != nil {
		return nil, false, err
	}

	created := existingID == entryID
	if created {
		for i, rec := range records {
			_, err = tx.ExecContext(ctx, `
INSERT INTO change_records(entry_id, position, kind, path, old_value, new_value, severity, breaking)
VALUES(?,?,?,?,?,?,?,?)`,
				entryID, i, string(rec.Kind), rec.Path, nullIfEmpty(rec.OldValue), nullIfEmpty(rec.NewValue),
				rec.Severity.String(), boolToInt(rec.Breaking))
			if err != nil {
				return nil, false, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}

	entry, err := d.GetEntry(ctx, existingID)
	if err != nil {
		return nil, false, err
	}
	return entry, created, nil
}

// GetEntry returns one changelog entry with its change records.
func (d *DB) GetEntry(ctx context.Context, id string) (*ChangelogEntry, error) {
	var e ChangelogEntry
	var breaking int
	var sevName, createdAt string
	err := d.sql.QueryRowContext(ctx, `
SELECT id, target_id, from_snapshot, to_snapshot, severity, breaking, created_at
FROM changelog_entries WHERE id = ?`, id).
		Scan(&e.ID, &e.TargetID, &e.FromSnapshot, &e.ToSnapshot, &sevName, &breaking, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Breaking = breaking == 1
	e.SeverityName = sevName
	e.CreatedAt = parseTime(createdAt)
	if e.Severity, err = classify.ParseSeverity(sevName); err != nil {
		return nil, err
	}

	rows, err := d.sql.QueryContext(ctx, `
SELECT kind, path, old_value, new_value, severity, breaking
FROM change_records WHERE entry_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rec classify.ClassifiedRecord
		var kind, recSev string
		var oldVal, newVal sql.NullString
		var recBreaking int
		if err := rows.Scan(&kind, &rec.Path, &oldVal, &newVal, &recSev, &recBreaking); err != nil {
			return nil, err
		}
		rec.Kind = diff.Kind(kind)
		rec.OldValue = oldVal.String
		rec.NewValue = newVal.String
		rec.Breaking = recBreaking == 1
		if rec.Severity, err = classify.ParseSeverity(recSev); err != nil {
			return nil, err
		}
		e.Records = append(e.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &e, nil
}

// EntryFilter selects changelog entries for listing.
type EntryFilter struct {
	TargetID    int64 // 0 = all targets
	MinSeverity classify.Severity
	Breaking    *bool
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}

// ListEntries returns changelog entries matching the filter, newest first,
// without their change records (fetch one entry for those).
func (d *DB) ListEntries(ctx context.Context, f EntryFilter) ([]ChangelogEntry, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if f.TargetID != 0 {
		where += " AND target_id = ?"
		args = append(args, f.TargetID)
	}
	if f.MinSeverity != 0 {
		// The tier names are not lexically ordered, so the threshold becomes
		// an IN-list of the qualifying names. Filtering in SQL keeps the
		// filter composable with LIMIT/OFFSET.
		names := severityNamesAtOrAbove(f.MinSeverity)
		where += " AND severity IN (?" + strings.Repeat(",?", len(names)-1) + ")"
		for _, name := range names {
			args = append(args, name)
		}
	}
	if f.Breaking != nil {
		where += " AND breaking = ?"
		args = append(args, boolToInt(*f.Breaking))
	}
	if !f.Since.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, fmtTime(f.Since))
	}
	if !f.Until.IsZero() {
		where += " AND created_at <= ?"
		args = append(args, fmtTime(f.Until))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	// Timestamps have second resolution; rowid breaks ties in insertion
	// order so pagination is stable.
	q := `SELECT id, target_id, from_snapshot, to_snapshot, severity, breaking, created_at
FROM changelog_entries ` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChangelogEntry
	for rows.Next() {
		var e ChangelogEntry
		var breaking int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TargetID, &e.FromSnapshot, &e.ToSnapshot, &e.SeverityName, &breaking, &createdAt); err != nil {
			return nil, err
		}
		e.Breaking = breaking == 1
		e.CreatedAt = parseTime(createdAt)
		if e.Severity, err = classify.ParseSeverity(e.SeverityName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func severityNamesAtOrAbove(min classify.Severity) []string {
	var names []string
	for sev := min; sev <= classify.Critical; sev++ {
		names = append(names, sev.String())
	}
	return names
}

// MarkDispatched stamps an entry as fanned out to the dispatcher.
func (d *DB) MarkDispatched(ctx context.Context, entryID string) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE changelog_entries SET dispatched_at = ? WHERE id = ?`, fmtTime(time.Now()), entryID)
	return err
}

// UndispatchedEntries returns entries written but never dispatched, oldest
// first. The recovery pass at startup re-dispatches these; duplicate
// dispatch is safe because tasks are deduplicated per (entry, subscriber,
// channel).
func (d *DB) UndispatchedEntries(ctx context.Context) ([]ChangelogEntry, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id FROM changelog_entries WHERE dispatched_at IS NULL ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ChangelogEntry, 0, len(ids))
	for _, id := range ids {
		e, err := d.GetEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// SeverityStat is one row of aggregate change statistics.
type SeverityStat struct {
	TargetID int64  `json:"target_id"`
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// Stats aggregates changelog entries per target and severity since a time.
func (d *DB) Stats(ctx context.Context, since time.Time) ([]SeverityStat, error) {
	q := `SELECT target_id, severity, COUNT(*) FROM changelog_entries`
	args := []interface{}{}
	if !since.IsZero() {
		q += ` WHERE created_at >= ?`
		args = append(args, fmtTime(since))
	}
	q += ` GROUP BY target_id, severity ORDER BY target_id, severity`
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SeverityStat
	for rows.Next() {
		var s SeverityStat
		if err := rows.Scan(&s.TargetID, &s.Severity, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
