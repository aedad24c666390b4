package notify

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiwatch/apiwatch/pkg/canonical"
	"github.com/apiwatch/apiwatch/pkg/classify"
	"github.com/apiwatch/apiwatch/pkg/diff"
	"github.com/apiwatch/apiwatch/pkg/storage"
)

// fakeSender fails the first failures attempts, then succeeds. It drives
// its attempts through the shared backoff helper like the real senders.
type fakeSender struct {
	name     string
	budget   int
	failures int
	sent     []string
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, task storage.NotificationTask, entry *storage.ChangelogEntry) (int, error) {
	return sendWithRetry(ctx, f.budget, func(context.Context) error {
		if f.failures > 0 {
			f.failures--
			return errors.New("transient delivery failure")
		}
		f.sent = append(f.sent, entry.ID)
		return nil
	})
}

type fixture struct {
	db    *storage.DB
	tgt   storage.Target
	entry *storage.ChangelogEntry
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// newFixture builds a target with one breaking changelog entry.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(filepath.Join(t.TempDir(), "apiwatch.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tgt, err := db.AddTarget(ctx, "svc", "https://svc.example/openapi.json", time.Hour)
	require.NoError(t, err)

	a, err := canonical.Parse([]byte(`{"openapi":"3.0.0","info":{"title":"svc","version":"1"},"paths":{"/users":{"get":{}}}}`))
	require.NoError(t, err)
	b, err := canonical.Parse([]byte(`{"openapi":"3.0.0","info":{"title":"svc","version":"1"},"paths":{}}`))
	require.NoError(t, err)

	idA, _, err := db.RecordSnapshot(ctx, tgt.ID, a)
	require.NoError(t, err)
	idB, _, err := db.RecordSnapshot(ctx, tgt.ID, b)
	require.NoError(t, err)

	records := classify.ClassifyAll(diff.Diff(a.Root, b.Root))
	entry, created, err := db.WriteChangelog(ctx, tgt.ID, idA, idB, records)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, entry.Breaking)

	return &fixture{db: db, tgt: tgt, entry: entry}
}

func (f *fixture) subscribe(t *testing.T, handle string, prefs *storage.Preferences) storage.Subscriber {
	t.Helper()
	ctx := context.Background()
	sub, err := f.db.AddSubscriber(ctx, handle)
	require.NoError(t, err)
	require.NoError(t, f.db.Subscribe(ctx, f.tgt.ID, sub.ID))
	if prefs != nil {
		require.NoError(t, f.db.SetPreferences(ctx, sub.ID, *prefs))
	}
	return sub
}

func TestDispatchDefaultPreferencesDeliverInApp(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", nil)

	d := NewDispatcher(f.db, testLogger(), &InAppSender{DB: f.db})
	tasks, err := d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, ChannelInApp, tasks[0].Channel)

	got, err := f.db.GetTask(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskDelivered, got.Status)

	sub, _ := f.db.AddSubscriber(context.Background(), "alice")
	feed, err := f.db.ListFeed(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, f.entry.ID, feed[0].EntryID)
}

func TestDispatchMutedSubscriberGetsNothing(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", &storage.Preferences{
		Muted:    true,
		Channels: map[string]bool{"inapp": true},
	})

	d := NewDispatcher(f.db, testLogger(), &InAppSender{DB: f.db})
	tasks, err := d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDispatchBreakingOnlyFiltering(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "breaker", &storage.Preferences{
		BreakingOnly: true,
		Channels:     map[string]bool{"inapp": true},
	})

	d := NewDispatcher(f.db, testLogger(), &InAppSender{DB: f.db})

	// The fixture entry is breaking, so it passes.
	tasks, err := d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// A non-breaking entry does not.
	ctx := context.Background()
	c, err := canonical.Parse([]byte(`{"openapi":"3.0.0","info":{"title":"svc","version":"2"},"paths":{}}`))
	require.NoError(t, err)
	idC, _, err := f.db.RecordSnapshot(ctx, f.tgt.ID, c)
	require.NoError(t, err)
	prev, _, ok, err := f.db.LatestTwo(ctx, f.tgt.ID)
	require.NoError(t, err)
	require.True(t, ok)
	prevDoc, err := canonical.Parse([]byte(prev.Doc))
	require.NoError(t, err)
	records := classify.ClassifyAll(diff.Diff(prevDoc.Root, c.Root))
	entry, _, err := f.db.WriteChangelog(ctx, f.tgt.ID, prev.ID, idC, records)
	require.NoError(t, err)
	require.False(t, entry.Breaking)

	tasks, err = d.Dispatch(ctx, entry)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDispatchMinSeverityThreshold(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "critical-only", &storage.Preferences{
		MinSeverity: classify.Critical,
		Channels:    map[string]bool{"inapp": true},
	})
	f.subscribe(t, "anything", &storage.Preferences{
		MinSeverity: classify.Low,
		Channels:    map[string]bool{"inapp": true},
	})

	d := NewDispatcher(f.db, testLogger(), &InAppSender{DB: f.db})
	tasks, err := d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)
	// The fixture entry is critical, so both subscribers qualify.
	assert.Len(t, tasks, 2)
}

func TestDispatchRetryBudgetExhaustion(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", &storage.Preferences{
		Channels: map[string]bool{"push": true},
	})

	sender := &fakeSender{name: ChannelPush, budget: 3, failures: 10}
	d := NewDispatcher(f.db, testLogger(), sender)

	tasks, err := d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	got, err := f.db.GetTask(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Empty(t, sender.sent)
}

func TestDispatchRetriesUntilSuccess(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", &storage.Preferences{
		Channels: map[string]bool{"push": true},
	})

	sender := &fakeSender{name: ChannelPush, budget: 3, failures: 2}
	d := NewDispatcher(f.db, testLogger(), sender)

	tasks, err := d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	got, err := f.db.GetTask(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskDelivered, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, []string{f.entry.ID}, sender.sent)
}

func TestSendWithRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := sendWithRetry(ctx, 5, func(context.Context) error {
		return errors.New("always failing")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDispatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", nil)

	sender := &fakeSender{name: ChannelInApp}
	d := NewDispatcher(f.db, testLogger(), sender)

	_, err := d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)

	// The delivered task is not re-sent on the second dispatch.
	assert.Len(t, sender.sent, 1)

	tasks, err := f.db.ListTasks(context.Background(), f.entry.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestDispatchMissingSenderLeavesTaskPending(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", &storage.Preferences{
		Channels: map[string]bool{"email": true},
	})

	d := NewDispatcher(f.db, testLogger(), &InAppSender{DB: f.db})
	tasks, err := d.Dispatch(context.Background(), f.entry)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	got, err := f.db.GetTask(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

func TestRecoverReplaysUndispatchedEntries(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", nil)

	d := NewDispatcher(f.db, testLogger(), &InAppSender{DB: f.db})

	n, err := d.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := f.db.ListTasks(context.Background(), f.entry.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, storage.TaskDelivered, tasks[0].Status)

	// A second pass finds nothing to replay.
	n, err = d.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
