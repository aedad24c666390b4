package polling

import (
	"context"
	"time"

	"github.com/apiwatch/apiwatch/pkg/storage"
)

// Watch runs the scheduler until ctx is canceled: a startup recovery pass
// for undispatched changelog entries, one immediate poll of every target,
// then per-target tickers on each target's configured interval. The target
// list is re-read on every scheduler sweep so registrations and
// deactivations take effect without a restart.
func (r *Runner) Watch(ctx context.Context) error {
	if n, err := r.cfg.Dispatcher.Recover(ctx); err != nil {
		r.log.Errorf("recovery pass: %v", err)
	} else if n > 0 {
		r.log.Infof("re-dispatched %d changelog entr(ies) from before last shutdown", n)
	}

	if _, err := r.PollAll(ctx); err != nil {
		r.log.Errorf("initial poll: %v", err)
	}

	next := make(map[int64]time.Time)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			targets, err := r.cfg.DB.ListTargets(ctx, true)
			if err != nil {
				r.log.Errorf("listing targets: %v", err)
				continue
			}
			for _, target := range targets {
				due, seen := next[target.ID]
				if !seen {
					next[target.ID] = now.Add(target.Interval)
					continue
				}
				if now.Before(due) {
					continue
				}
				next[target.ID] = now.Add(target.Interval)
				go r.scheduledCycle(ctx, target)
			}
		}
	}
}

func (r *Runner) scheduledCycle(ctx context.Context, target storage.Target) {
	res, err := r.Cycle(ctx, target)
	if err != nil {
		r.log.Warnf("%v", err)
		return
	}
	if res.Skipped {
		r.log.Infof("skipped poll for %s: previous cycle still running", target.Name)
	}
	if r.cfg.OnCycleDone != nil {
		r.cfg.OnCycleDone(res)
	}
}
