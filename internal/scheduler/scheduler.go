// Package scheduler runs the feed poll on a cron cadence with a bounded
// number of overlapping runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sync/semaphore"
)

// Defaults: poll every minute, at most five runs in flight.
const (
	DefaultSchedule = "*/1 * * * *"
	DefaultMaxRuns  = 5
)

// Poller is the feed poll entry point.
type Poller interface {
	Poll(ctx context.Context, fetchAll bool) error
}

// Dispatcher fires poll runs on a UTC cron schedule. When MaxRuns runs are
// already executing a fire is dropped, not queued; the next scheduled fire
// proceeds independently.
type Dispatcher struct {
	poller   Poller
	log      *slog.Logger
	schedule string
	maxRuns  int64

	sem     *semaphore.Weighted
	running atomic.Int64
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a Dispatcher for the given cron expression and run ceiling.
func New(poller Poller, schedule string, maxRuns int, log *slog.Logger) (*Dispatcher, error) {
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid poll schedule %q", schedule)
	}
	if maxRuns < 1 {
		return nil, fmt.Errorf("max runs must be at least 1, got %d", maxRuns)
	}
	return &Dispatcher{
		poller:   poller,
		log:      log,
		schedule: schedule,
		maxRuns:  int64(maxRuns),
		sem:      semaphore.NewWeighted(int64(maxRuns)),
		now:      time.Now,
	}, nil
}

// Run fires incremental polls on schedule until ctx is cancelled, then
// waits for in-flight runs to return.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.wg.Wait()

	for {
		next, err := d.next(d.now())
		if err != nil {
			d.log.Error("compute next poll", "schedule", d.schedule, "error", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			d.Fire(ctx, false)
		}
	}
}

// Fire starts one poll run unless the ceiling is reached. It reports
// whether the run was started.
func (d *Dispatcher) Fire(ctx context.Context, fetchAll bool) bool {
	if !d.sem.TryAcquire(1) {
		d.log.Info("poll skipped, too many runs in flight",
			"running", d.running.Load(), "max_runs", d.maxRuns, "fetch_all", fetchAll)
		return false
	}

	n := d.running.Add(1)
	d.log.Debug("poll started", "running", n, "fetch_all", fetchAll)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer d.running.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("poll panicked", "panic", r, "fetch_all", fetchAll)
			}
		}()

		start := d.now()
		if err := d.poller.Poll(ctx, fetchAll); err != nil {
			d.log.Error("poll failed", "fetch_all", fetchAll, "duration", d.now().Sub(start), "error", err)
			return
		}
		d.log.Debug("poll finished", "fetch_all", fetchAll, "duration", d.now().Sub(start))
	}()
	return true
}

// Running returns the number of poll runs currently executing.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// Wait blocks until every started run has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) next(after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(d.schedule, after.UTC(), false)
}
