package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/omniroute/omniroute/pkg/routing"
	"github.com/omniroute/omniroute/pkg/sink"
)

// Start launches the aggregation loop and the batch-timeout flusher.
// Calling Start on a running tracker is a no-op.
func (t *Tracker) Start(context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(loopCtx)

	return nil
}

// Running reports whether the background loops are active.
func (t *Tracker) Running() bool {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	return t.cancel != nil
}

// Stop cancels the background loops, waits for them to exit, and drains
// the completed buffer with a final flush. No records are lost on a
// clean shutdown.
func (t *Tracker) Stop(ctx context.Context) error {
	t.lifecycleMu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.done = nil
	t.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, err := t.Flush(ctx)

	return err
}

// run drives both periodic activities on one goroutine: the aggregation
// tick and the batch-timeout flush tick.
func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)

	aggregate := time.NewTicker(t.cfg.AggregateInterval)
	defer aggregate.Stop()

	flush := time.NewTicker(t.cfg.BatchTimeout)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-aggregate.C:
			t.aggregate(ctx)
		case <-flush.C:
			t.flushAsync()
		}
	}
}

// aggregate computes the rolling snapshot, ages out stale active entries,
// and writes the snapshot to the sink when one exists. Errors are logged
// and the loop continues.
func (t *Tracker) aggregate(ctx context.Context) {
	now := time.Now().UTC()

	t.evictStale(now)

	snap := t.snapshot(now)
	t.lastAggregation.Store(now.UnixNano())

	if t.snk == nil {
		return
	}

	err := t.snk.WriteAggregate(ctx, snap)
	if err != nil {
		t.logger.Warn("aggregate snapshot write failed", slog.Any("error", err))
	}
}

// snapshot builds the current aggregate view.
func (t *Tracker) snapshot(now time.Time) sink.AggregateSnapshot {
	t.statsMu.RLock()
	adapters := make([]routing.AdapterStats, 0, len(t.stats))

	for adapter, counters := range t.stats {
		adapters = append(adapters, routing.AdapterStats{
			Adapter:      adapter,
			SuccessCount: counters.success.Load(),
			FailureCount: counters.failure.Load(),
		})
	}
	t.statsMu.RUnlock()

	t.countsMu.Lock()
	counts := make(map[routing.TaskKind]int64, len(t.taskCounts))

	for kind, n := range t.taskCounts {
		counts[kind] = n
	}
	t.countsMu.Unlock()

	return sink.AggregateSnapshot{
		TakenAt:    now,
		Adapters:   adapters,
		TaskCounts: counts,
	}
}

// evictStale removes active entries older than the TTL so abandoned
// executions cannot leak the map.
func (t *Tracker) evictStale(now time.Time) {
	cutoff := now.Add(-t.cfg.ActiveTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, entry := range t.active {
		if entry.StartTS.Before(cutoff) {
			delete(t.active, id)
		}
	}
}

// Snapshot exposes the current aggregate view for callers outside the
// loop (status surfaces, tests).
func (t *Tracker) Snapshot() sink.AggregateSnapshot {
	return t.snapshot(time.Now().UTC())
}
