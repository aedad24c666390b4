// Package notify resolves subscribers for a changelog entry and delivers
// one notification task per (subscriber, channel).
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/apiwatch/apiwatch/pkg/storage"
)

// Dispatcher owns NotificationTask lifetime: it creates tasks from a
// changelog entry and a subscriber's preferences, hands each task to its
// channel's sender and records the terminal status the sender reports.
// Retrying the underlying send is the sender's concern.
type Dispatcher struct {
	DB      *storage.DB
	Senders map[string]Sender
	Log     *logrus.Logger
}

func NewDispatcher(db *storage.DB, log *logrus.Logger, senders ...Sender) *Dispatcher {
	m := make(map[string]Sender, len(senders))
	for _, s := range senders {
		m[s.Name()] = s
	}
	return &Dispatcher{DB: db, Senders: m, Log: log}
}

// Dispatch fans one changelog entry out to its subscribers. Each eligible
// (subscriber, channel) pair yields exactly one task, deduplicated across
// repeated dispatches of the same entry, so at-least-once dispatch never
// double-delivers. A subscriber with no eligible channel produces zero
// tasks, not failed ones.
func (d *Dispatcher) Dispatch(ctx context.Context, entry *storage.ChangelogEntry) ([]storage.NotificationTask, error) {
	subs, err := d.DB.GetSubscribers(ctx, entry.TargetID)
	if err != nil {
		return nil, fmt.Errorf("resolving subscribers: %w", err)
	}

	var tasks []storage.NotificationTask
	for _, sub := range subs {
		prefs, err := d.DB.GetPreferences(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("preferences for %s: %w", sub.Handle, err)
		}
		if !wants(prefs, entry) {
			continue
		}
		for channel, enabled := range prefs.Channels {
			if !enabled {
				continue
			}
			task, created, err := d.DB.CreateTask(ctx, entry.ID, sub.ID, channel)
			if err != nil {
				return nil, err
			}
			if created || task.Status == storage.TaskPending {
				d.deliver(ctx, &task, entry)
			}
			tasks = append(tasks, task)
		}
	}
	if err := d.DB.MarkDispatched(ctx, entry.ID); err != nil {
		return tasks, err
	}
	return tasks, nil
}

// wants decides whether a subscriber receives this entry at all. Muted wins
// over everything; when both the breaking-only flag and a severity
// threshold are set, both must hold.
func wants(p storage.Preferences, entry *storage.ChangelogEntry) bool {
	if p.Muted {
		return false
	}
	if p.BreakingOnly && !entry.Breaking {
		return false
	}
	if p.MinSeverity != 0 && entry.Severity < p.MinSeverity {
		return false
	}
	return true
}

// deliver hands one task to its channel's sender and records the outcome:
// pending → delivered, or pending → failed when the sender reports its
// retry budget exhausted.
func (d *Dispatcher) deliver(ctx context.Context, task *storage.NotificationTask, entry *storage.ChangelogEntry) {
	sender, ok := d.Senders[task.Channel]
	if !ok {
		// No sender wired for this channel in this process; leave the task
		// pending for a process that has one.
		d.Log.Debugf("no sender for channel %q, task %d stays pending", task.Channel, task.ID)
		return
	}

	attempts, sendErr := sender.Send(ctx, *task, entry)
	if attempts > 0 {
		if err := d.DB.RecordAttempts(ctx, task.ID, attempts); err != nil {
			d.Log.Warnf("recording attempts for task %d: %v", task.ID, err)
			return
		}
		task.Attempts += attempts
	}

	if sendErr != nil {
		if err := d.DB.MarkFailed(ctx, task.ID); err != nil {
			d.Log.Warnf("marking task %d failed: %v", task.ID, err)
		}
		task.Status = storage.TaskFailed
		d.Log.Errorf("delivery on %s failed terminally for entry %s after %d attempts: %v",
			task.Channel, entry.ID, task.Attempts, sendErr)
		return
	}
	if err := d.DB.MarkDelivered(ctx, task.ID); err != nil {
		d.Log.Warnf("marking task %d delivered: %v", task.ID, err)
	}
	task.Status = storage.TaskDelivered
}

// Recover re-dispatches changelog entries that were written but never
// fanned out, e.g. after a crash between the changelog write and dispatch.
// Task deduplication makes this safe to run at every startup.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	entries, err := d.DB.UndispatchedEntries(ctx)
	if err != nil {
		return 0, err
	}
	for i := range entries {
		if _, err := d.Dispatch(ctx, &entries[i]); err != nil {
			return i, fmt.Errorf("re-dispatching entry %s: %w", entries[i].ID, err)
		}
	}
	return len(entries), nil
}
