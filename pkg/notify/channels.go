package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apiwatch/apiwatch/pkg/storage"
)

// Channel names. Senders are registered under these keys and preferences
// opt in per key.
const (
	ChannelInApp = "inapp"
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// Sender delivers one notification task's payload on one channel. A Send
// call owns the channel's whole retry budget: it retries transient failures
// with bounded exponential backoff and reports how many attempts it made.
// A non-nil error means the budget is exhausted; the dispatcher then
// records the terminal state.
type Sender interface {
	Name() string
	Send(ctx context.Context, task storage.NotificationTask, entry *storage.ChangelogEntry) (int, error)
}

const (
	defaultMaxAttempts = 3
	initialBackoff     = 250 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

// sendWithRetry drives fn through a bounded exponential backoff budget and
// returns the number of attempts made.
func sendWithRetry(ctx context.Context, budget int, fn func(context.Context) error) (int, error) {
	if budget <= 0 {
		budget = defaultMaxAttempts
	}
	delay := initialBackoff
	var err error
	for attempt := 1; attempt <= budget; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if attempt == budget {
			return attempt, err
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return budget, err
}

// InAppSender appends the changelog event to the subscriber's in-app feed.
type InAppSender struct {
	DB          *storage.DB
	MaxAttempts int
}

func (s *InAppSender) Name() string { return ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, task storage.NotificationTask, entry *storage.ChangelogEntry) (int, error) {
	return sendWithRetry(ctx, s.MaxAttempts, func(ctx context.Context) error {
		return s.DB.AppendFeed(ctx, task.SubscriberID, entry.ID)
	})
}

// PushSender broadcasts the changelog event to connected realtime clients.
type PushSender struct {
	Hub         *Hub
	MaxAttempts int
}

func (s *PushSender) Name() string { return ChannelPush }

func (s *PushSender) Send(ctx context.Context, task storage.NotificationTask, entry *storage.ChangelogEntry) (int, error) {
	payload, err := json.Marshal(pushPayload{
		Event:        "changelog",
		EntryID:      entry.ID,
		TargetID:     entry.TargetID,
		Severity:     entry.SeverityName,
		Breaking:     entry.Breaking,
		SubscriberID: task.SubscriberID,
	})
	if err != nil {
		return 0, err
	}
	return sendWithRetry(ctx, s.MaxAttempts, func(context.Context) error {
		s.Hub.Broadcast(payload)
		return nil
	})
}

type pushPayload struct {
	Event        string `json:"event"`
	EntryID      string `json:"entry_id"`
	TargetID     int64  `json:"target_id"`
	Severity     string `json:"severity"`
	Breaking     bool   `json:"breaking"`
	SubscriberID int64  `json:"subscriber_id"`
}
