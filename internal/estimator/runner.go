package estimator

import (
	"context"
	"time"

	"github.com/banshee-data/heading.fusion/internal/ingest"
	"github.com/banshee-data/heading.fusion/internal/monitoring"
	"github.com/banshee-data/heading.fusion/internal/timeutil"
)

// SnapshotPublisher receives periodic estimator snapshots.
type SnapshotPublisher interface {
	PublishSnapshot(Snapshot)
}

// SnapshotFunc adapts a function to SnapshotPublisher.
type SnapshotFunc func(Snapshot)

func (f SnapshotFunc) PublishSnapshot(s Snapshot) { f(s) }

// DefaultPublishInterval is the snapshot period of a Runner.
const DefaultPublishInterval = time.Second

// Runner applies records to an Estimator on one goroutine and publishes
// snapshots on a clock tick.
type Runner struct {
	Estimator  *Estimator
	Clock      timeutil.Clock
	Interval   time.Duration
	Publishers []SnapshotPublisher
}

// Run consumes records until the channel closes or ctx is cancelled. A
// final snapshot is published on the way out.
func (r *Runner) Run(ctx context.Context, records <-chan ingest.Record) error {
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultPublishInterval
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	applied := 0
	started := clock.Now()
	defer func() {
		r.publish()
		monitoring.Logf("estimator runner stopped after %d records in %v", applied, clock.Since(started))
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			r.Estimator.Apply(rec)
			applied++
		case <-ticker.C():
			r.publish()
		}
	}
}

func (r *Runner) publish() {
	if len(r.Publishers) == 0 {
		return
	}
	snap := r.Estimator.Snapshot()
	for _, p := range r.Publishers {
		p.PublishSnapshot(snap)
	}
}
