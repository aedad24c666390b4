package storage

import (
	"time"

	"github.com/apiwatch/apiwatch/pkg/classify"
)

// Target is one monitored API. Targets are deactivated, never hard-deleted,
// so snapshot and changelog history stays resolvable.
type Target struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	Interval time.Duration `json:"interval"`
	Active   bool          `json:"active"`
}

// Subscriber is one user subscribed to one or more targets.
type Subscriber struct {
	ID     int64  `json:"id"`
	Handle string `json:"handle"`
}

// Preferences controls which changelog events reach a subscriber and on
// which channels. Muted wins over everything; when both BreakingOnly and
// MinSeverity are set, both must hold for a task to be produced.
type Preferences struct {
	Muted        bool              `json:"muted"`
	BreakingOnly bool              `json:"breaking_only"`
	MinSeverity  classify.Severity `json:"min_severity,omitempty"` // 0 = no threshold
	Channels     map[string]bool   `json:"channels"`               // channel name -> opt-in
}

// Snapshot is one stored canonical document for a target. Immutable.
type Snapshot struct {
	ID         int64     `json:"id"`
	TargetID   int64     `json:"target_id"`
	CapturedAt time.Time `json:"captured_at"`
	Hash       string    `json:"hash"`
	Doc        string    `json:"-"` // canonical JSON rendering
}

// ChangelogEntry is the durable result of comparing two snapshots.
type ChangelogEntry struct {
	ID           string                      `json:"id"`
	TargetID     int64                       `json:"target_id"`
	FromSnapshot int64                       `json:"from_snapshot"`
	ToSnapshot   int64                       `json:"to_snapshot"`
	Severity     classify.Severity           `json:"-"`
	SeverityName string                      `json:"severity"`
	Breaking     bool                        `json:"breaking"`
	CreatedAt    time.Time                   `json:"created_at"`
	Records      []classify.ClassifiedRecord `json:"records,omitempty"`
}

// Task statuses. A task never leaves delivered or failed.
const (
	TaskPending   = "pending"
	TaskDelivered = "delivered"
	TaskFailed    = "failed"
)

// NotificationTask is one delivery obligation for one subscriber on one
// channel.
type NotificationTask struct {
	ID           int64  `json:"id"`
	EntryID      string `json:"entry_id"`
	SubscriberID int64  `json:"subscriber_id"`
	Channel      string `json:"channel"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
}

// FeedItem is one in-app feed line for a subscriber.
type FeedItem struct {
	EntryID   string    `json:"entry_id"`
	TargetID  int64     `json:"target_id"`
	Severity  string    `json:"severity"`
	Breaking  bool      `json:"breaking"`
	CreatedAt time.Time `json:"created_at"`
}
