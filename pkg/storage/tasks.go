package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTask records one delivery obligation. Duplicate (entry, subscriber,
// channel) combinations are ignored, which makes re-dispatch after crash
// recovery safe. created is false when the task already existed.
func (d *DB) CreateTask(ctx context.Context, entryID string, subscriberID int64, channel string) (NotificationTask, bool, error) {
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO notification_tasks(entry_id, subscriber_id, channel, status, attempts)
VALUES(?,?,?,'pending',0)
ON CONFLICT(entry_id, subscriber_id, channel) DO NOTHING`,
		entryID, subscriberID, channel)
	if err != nil {
		return NotificationTask{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NotificationTask{}, false, err
	}

	var t NotificationTask
	err = d.sql.QueryRowContext(ctx, `
SELECT id, entry_id, subscriber_id, channel, status, attempts
FROM notification_tasks WHERE entry_id = ? AND subscriber_id = ? AND channel = ?`,
		entryID, subscriberID, channel).
		Scan(&t.ID, &t.EntryID, &t.SubscriberID, &t.Channel, &t.Status, &t.Attempts)
	if err != nil {
		return NotificationTask{}, false, err
	}
	return t, n > 0, nil
}

// RecordAttempts adds the delivery attempts a sender reports to a pending
// task's count. It refuses to touch terminal tasks.
func (d *DB) RecordAttempts(ctx context.Context, taskID int64, n int) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE notification_tasks SET attempts = attempts + ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		n, fmtTime(time.Now()), taskID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task %d: no pending task to transition", taskID)
	}
	return nil
}

// MarkDelivered moves a pending task to its terminal success state.
func (d *DB) MarkDelivered(ctx context.Context, taskID int64) error {
	return d.transition(ctx, taskID,
		`UPDATE notification_tasks SET status = 'delivered', updated_at = ? WHERE id = ? AND status = 'pending'`)
}

// MarkFailed moves a pending task to its terminal failure state, used after
// the sender reports retry-budget exhaustion.
func (d *DB) MarkFailed(ctx context.Context, taskID int64) error {
	return d.transition(ctx, taskID,
		`UPDATE notification_tasks SET status = 'failed', updated_at = ? WHERE id = ? AND status = 'pending'`)
}

func (d *DB) transition(ctx context.Context, taskID int64, q string) error {
	res, err := d.sql.ExecContext(ctx, q, fmtTime(time.Now()), taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %d: no pending task to transition", taskID)
	}
	return nil
}

// GetTask returns one task by id.
func (d *DB) GetTask(ctx context.Context, taskID int64) (NotificationTask, error) {
	var t NotificationTask
	err := d.sql.QueryRowContext(ctx, `
SELECT id, entry_id, subscriber_id, channel, status, attempts
FROM notification_tasks WHERE id = ?`, taskID).
		Scan(&t.ID, &t.EntryID, &t.SubscriberID, &t.Channel, &t.Status, &t.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return NotificationTask{}, fmt.Errorf("task %d not found", taskID)
	}
	return t, err
}

// ListTasks returns every task for a changelog entry.
func (d *DB) ListTasks(ctx context.Context, entryID string) ([]NotificationTask, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, entry_id, subscriber_id, channel, status, attempts
FROM notification_tasks WHERE entry_id = ? ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NotificationTask
	for rows.Next() {
		var t NotificationTask
		if err := rows.Scan(&t.ID, &t.EntryID, &t.SubscriberID, &t.Channel, &t.Status, &t.Attempts); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendFeed writes one in-app feed item. Idempotent per (subscriber, entry).
func (d *DB) AppendFeed(ctx context.Context, subscriberID int64, entryID string) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO inapp_feed(subscriber_id, entry_id) VALUES(?,?)
ON CONFLICT(subscriber_id, entry_id) DO NOTHING`, subscriberID, entryID)
	return err
}

// ListFeed returns a subscriber's in-app feed, newest first.
func (d *DB) ListFeed(ctx context.Context, subscriberID int64, limit int) ([]FeedItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx, `
SELECT f.entry_id, e.target_id, e.severity, e.breaking, e.created_at
FROM inapp_feed f
JOIN changelog_entries e ON e.id = f.entry_id
WHERE f.subscriber_id = ?
ORDER BY f.created_at DESC, f.id DESC LIMIT ?`, subscriberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FeedItem
	for rows.Next() {
		var it FeedItem
		var breaking int
		var createdAt string
		if err := rows.Scan(&it.EntryID, &it.TargetID, &it.Severity, &breaking, &createdAt); err != nil {
			return nil, err
		}
		it.Breaking = breaking == 1
		it.CreatedAt = parseTime(createdAt)
		out = append(out, it)
	}
	return out, rows.Err()
}
