// Package polling drives fetch-diff-classify-notify cycles over the
// monitored targets.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/apiwatch/apiwatch/pkg/canonical"
	"github.com/apiwatch/apiwatch/pkg/classify"
	"github.com/apiwatch/apiwatch/pkg/diff"
	"github.com/apiwatch/apiwatch/pkg/fetch"
	"github.com/apiwatch/apiwatch/pkg/notify"
	"github.com/apiwatch/apiwatch/pkg/storage"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Config holds everything a poll run needs.
type Config struct {
	DB          *storage.DB
	Fetcher     *fetch.Client
	Dispatcher  *notify.Dispatcher
	Concurrency int    // defaults to 5 if <= 0
	Log         Logger // optional; nil = no logging

	// OnCycleDone is called after each completed cycle (from worker
	// goroutines). Enables the CLI to stream-print changes as they happen.
	// Nil = no callback.
	OnCycleDone func(result CycleResult)
}

// CycleResult is the outcome of one fetch-diff-classify-notify cycle.
type CycleResult struct {
	Target     storage.Target
	SnapshotID int64
	// NewSnapshot is false when the fetched document hash-matched the
	// previous snapshot and nothing was written.
	NewSnapshot bool
	// Entry is nil when the cycle produced no changelog entry: first
	// snapshot, unchanged document, or idempotent duplicate.
	Entry *storage.ChangelogEntry
	Tasks []storage.NotificationTask
	// Skipped is true when the target's cycle lock was held by another
	// in-flight cycle.
	Skipped bool
}

// Runner executes cycles with per-target serialization.
type Runner struct {
	cfg   Config
	locks *keyLocks
	log   Logger
}

func NewRunner(cfg Config) *Runner {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	return &Runner{cfg: cfg, locks: newKeyLocks(), log: log}
}

// Cycle runs one full cycle for a target. Cycles for the same target are
// serialized; if another cycle is in flight the call returns Skipped=true
// without doing any work.
func (r *Runner) Cycle(ctx context.Context, target storage.Target) (CycleResult, error) {
	if !r.locks.tryAcquire(target.ID) {
		r.log.Debugf("cycle for target %d already in flight, skipping", target.ID)
		return CycleResult{Target: target, Skipped: true}, nil
	}
	defer r.locks.release(target.ID)
	return r.runCycle(ctx, target)
}

func (r *Runner) runCycle(ctx context.Context, target storage.Target) (CycleResult, error) {
	result := CycleResult{Target: target}

	doc, err := r.cfg.Fetcher.Fetch(ctx, target.URL)
	if err != nil {
		// No snapshot is recorded on any fetch failure; retrying is the
		// scheduler's business, not this cycle's.
		return result, fmt.Errorf("fetching %s: %w", target.URL, err)
	}

	snapID, created, err := r.cfg.DB.RecordSnapshot(ctx, target.ID, doc)
	if err != nil {
		return result, fmt.Errorf("recording snapshot for %s: %w", target.Name, err)
	}
	result.SnapshotID = snapID
	result.NewSnapshot = created
	if !created {
		r.log.Debugf("%s unchanged (snapshot %d)", target.Name, snapID)
		return result, nil
	}

	prev, curr, ok, err := r.cfg.DB.LatestTwo(ctx, target.ID)
	if err != nil {
		return result, err
	}
	if !ok {
		r.log.Infof("first snapshot for %s recorded", target.Name)
		return result, nil
	}

	prevDoc, err := canonical.Parse([]byte(prev.Doc))
	if err != nil {
		return result, fmt.Errorf("stored snapshot %d unparsable: %w", prev.ID, err)
	}
	currDoc, err := canonical.Parse([]byte(curr.Doc))
	if err != nil {
		return result, fmt.Errorf("stored snapshot %d unparsable: %w", curr.ID, err)
	}

	records := classify.ClassifyAll(diff.Diff(prevDoc.Root, currDoc.Root))
	entry, createdEntry, err := r.cfg.DB.WriteChangelog(ctx, target.ID, prev.ID, curr.ID, records)
	if err != nil {
		return result, err
	}
	if entry == nil {
		// Hash differed but the canonical structures did not; nothing to
		// report.
		return result, nil
	}
	result.Entry = entry
	if !createdEntry {
		r.log.Debugf("changelog for %s (%d→%d) already written", target.Name, prev.ID, curr.ID)
		return result, nil
	}

	r.log.Infof("%s: %d change(s), severity %s, breaking=%t",
		target.Name, len(entry.Records), entry.SeverityName, entry.Breaking)

	tasks, err := r.cfg.Dispatcher.Dispatch(ctx, entry)
	if err != nil {
		return result, fmt.Errorf("dispatching entry %s: %w", entry.ID, err)
	}
	result.Tasks = tasks
	return result, nil
}

// PollAll runs one cycle for every active target with a bounded worker
// pool. Per-target ordering is preserved by the cycle locks; across targets
// no ordering is guaranteed.
func (r *Runner) PollAll(ctx context.Context) ([]CycleResult, error) {
	targets, err := r.cfg.DB.ListTargets(ctx, true)
	if err != nil {
		return nil, err
	}

	concurrency := r.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	var mu sync.Mutex
	results := make([]CycleResult, 0, len(targets))
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			res, err := r.Cycle(gctx, target)
			mu.Lock()
			if err != nil {
				errs = append(errs, err)
			} else {
				results = append(results, res)
			}
			mu.Unlock()
			if err == nil && r.cfg.OnCycleDone != nil {
				r.cfg.OnCycleDone(res)
			}
			if err != nil {
				r.log.Warnf("%v", err)
			}
			// Per-target failures never abort the whole run.
			return nil
		})
	}
	_ = g.Wait()

	if len(results) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return results, nil
}
