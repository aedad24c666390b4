package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apiwatch/apiwatch/pkg/classify"
)

// ErrTargetNotFound is returned by lookups of unknown or inactive targets.
var ErrTargetNotFound = errors.New("target not found")

// AddTarget registers a monitored target. Re-adding an existing URL
// reactivates it and refreshes name and interval.
func (d *DB) AddTarget(ctx context.Context, name, url string, interval time.Duration) (Target, error) {
	if url == "" {
		return Target{}, errors.New("target url required")
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if name == "" {
		name = url
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO targets(name, url, interval_seconds, active) VALUES(?,?,?,1)
ON CONFLICT(url) DO UPDATE SET name = excluded.name, interval_seconds = excluded.interval_seconds, active = 1`,
		name, url, int64(interval/time.Second))
	if err != nil {
		return Target{}, err
	}
	return d.GetTargetByURL(ctx, url)
}

// DeactivateTarget flags a target inactive. History is kept.
func (d *DB) DeactivateTarget(ctx context.Context, id int64) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE targets SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

func (d *DB) GetTarget(ctx context.Context, id int64) (Target, error) {
	return d.scanTarget(d.sql.QueryRowContext(ctx,
		`SELECT id, name, url, interval_seconds, active FROM targets WHERE id = ?`, id))
}

func (d *DB) GetTargetByURL(ctx context.Context, url string) (Target, error) {
	return d.scanTarget(d.sql.QueryRowContext(ctx,
		`SELECT id, name, url, interval_seconds, active FROM targets WHERE url = ?`, url))
}

func (d *DB) scanTarget(row *sql.Row) (Target, error) {
	var t Target
	var seconds int64
	var active int
	if err := row.Scan(&t.ID, &t.Name, &t.URL, &seconds, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Target{}, ErrTargetNotFound
		}
		return Target{}, err
	}
	t.Interval = time.Duration(seconds) * time.Second
	t.Active = active == 1
	return t, nil
}

// ListTargets returns targets, optionally only active ones.
func (d *DB) ListTargets(ctx context.Context, activeOnly bool) ([]Target, error) {
	q := `SELECT id, name, url, interval_seconds, active FROM targets`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY id`
	rows, err := d.sql.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Target
	for rows.Next() {
		var t Target
		var seconds int64
		var active int
		if err := rows.Scan(&t.ID, &t.Name, &t.URL, &seconds, &active); err != nil {
			return nil, err
		}
		t.Interval = time.Duration(seconds) * time.Second
		t.Active = active == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddSubscriber creates a subscriber if the handle is new and returns it.
func (d *DB) AddSubscriber(ctx context.Context, handle string) (Subscriber, error) {
	if handle == "" {
		return Subscriber{}, errors.New("subscriber handle required")
	}
	if _, err := d.sql.ExecContext(ctx,
		`INSERT INTO subscribers(handle) VALUES(?) ON CONFLICT(handle) DO NOTHING`, handle); err != nil {
		return Subscriber{}, err
	}
	var s Subscriber
	err := d.sql.QueryRowContext(ctx,
		`SELECT id, handle FROM subscribers WHERE handle = ?`, handle).Scan(&s.ID, &s.Handle)
	return s, err
}

// Subscribe attaches a subscriber to a target. Idempotent.
func (d *DB) Subscribe(ctx context.Context, targetID, subscriberID int64) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO subscriptions(target_id, subscriber_id) VALUES(?,?)
		 ON CONFLICT(target_id, subscriber_id) DO NOTHING`, targetID, subscriberID)
	return err
}

// GetSubscribers returns every subscriber of a target.
func (d *DB) GetSubscribers(ctx context.Context, targetID int64) ([]Subscriber, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT s.id, s.handle FROM subscribers s
JOIN subscriptions sub ON sub.subscriber_id = s.id
WHERE sub.target_id = ? ORDER BY s.id`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscriber
	for rows.Next() {
		var s Subscriber
		if err := rows.Scan(&s.ID, &s.Handle); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetPreferences replaces a subscriber's notification preferences.
func (d *DB) SetPreferences(ctx context.Context, subscriberID int64, p Preferences) error {
	minSev := ""
	if p.MinSeverity != 0 {
		minSev = p.MinSeverity.String()
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO preferences(subscriber_id, muted, breaking_only, min_severity, inapp, push, email)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(subscriber_id) DO UPDATE SET
  muted = excluded.muted, breaking_only = excluded.breaking_only,
  min_severity = excluded.min_severity, inapp = excluded.inapp,
  push = excluded.push, email = excluded.email`,
		subscriberID, boolToInt(p.Muted), boolToInt(p.BreakingOnly), minSev,
		boolToInt(p.Channels["inapp"]), boolToInt(p.Channels["push"]), boolToInt(p.Channels["email"]))
	return err
}

// GetPreferences returns a subscriber's preferences. Subscribers without a
// stored row get the defaults: not muted, in-app only.
func (d *DB) GetPreferences(ctx context.Context, subscriberID int64) (Preferences, error) {
	var muted, breakingOnly, inapp, push, email int
	var minSev string
	err := d.sql.QueryRowContext(ctx, `
SELECT muted, breaking_only, min_severity, inapp, push, email
FROM preferences WHERE subscriber_id = ?`, subscriberID).
		Scan(&muted, &breakingOnly, &minSev, &inapp, &push, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return Preferences{Channels: map[string]bool{"inapp": true}}, nil
	}
	if err != nil {
		return Preferences{}, err
	}
	p := Preferences{
		Muted:        muted == 1,
		BreakingOnly: breakingOnly == 1,
		Channels: map[string]bool{
			"inapp": inapp == 1,
			"push":  push == 1,
			"email": email == 1,
		},
	}
	if minSev != "" {
		sev, err := classify.ParseSeverity(minSev)
		if err != nil {
			return Preferences{}, fmt.Errorf("stored min_severity: %w", err)
		}
		p.MinSeverity = sev
	}
	return p, nil
}
