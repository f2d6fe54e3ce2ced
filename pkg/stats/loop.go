package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/omniroute/omniroute/pkg/routing"
	"github.com/omniroute/omniroute/pkg/sink"
)

// Recalculation schedule: weekly, Sunday 03:00 UTC.
const (
	recalcWeekday = time.Sunday
	recalcHourUTC = 3
)

// Start launches the weekly recalculation loop. Calling Start on a
// running router is a no-op.
func (r *Router) Start(context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(loopCtx)

	return nil
}

// Stop cancels the recalculation loop and waits for it to exit.
func (r *Router) Stop(ctx context.Context) error {
	r.lifecycleMu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.lifecycleMu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run sleeps until the next scheduled recalculation, runs it, and
// reschedules. A failed recalculation retries after the error backoff
// instead of waiting a full week.
func (r *Router) run(ctx context.Context) {
	defer close(r.done)

	for {
		next := nextRecalcAfter(time.Now().UTC())

		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
		}

		err := r.Recalculate(ctx)
		if err == nil {
			continue
		}

		r.logger.Warn("scheduled recalculation failed", slog.Any("error", err))

		backoff := time.NewTimer(r.cfg.ErrorBackoff)

		select {
		case <-ctx.Done():
			backoff.Stop()

			return
		case <-backoff.C:
		}

		if err := r.Recalculate(ctx); err != nil {
			r.logger.Error("recalculation retry failed, waiting for next window",
				slog.Any("error", err))
		}
	}
}

// nextRecalcAfter returns the first scheduled recalculation instant
// strictly after now.
func nextRecalcAfter(now time.Time) time.Time {
	now = now.UTC()

	next := time.Date(now.Year(), now.Month(), now.Day(), recalcHourUTC, 0, 0, 0, time.UTC)

	daysAhead := (int(recalcWeekday) - int(now.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, daysAhead)

	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}

	return next
}

// Recalculate recomputes every task kind's preference order from current
// statistics, replaces the cache, clears experiment-winner overrides,
// and persists a scoring snapshot when a sink is configured.
func (r *Router) Recalculate(ctx context.Context) error {
	now := time.Now().UTC()
	orders := make([]routing.PreferenceOrder, 0, len(routing.AllTaskKinds()))

	fresh := make(map[routing.TaskKind]cachedOrder, len(routing.AllTaskKinds()))

	for _, kind := range routing.AllTaskKinds() {
		order := r.compute(kind)
		orders = append(orders, order)
		fresh[kind] = cachedOrder{order: order, expires: now.Add(r.cfg.CacheTTL)}
	}

	r.cacheMu.Lock()
	r.cache = fresh
	r.overrides = make(map[routing.TaskKind]routing.PreferenceOrder)
	r.cacheMu.Unlock()

	r.logger.Info("preference orders recalculated",
		slog.Int("task_kinds", len(orders)))

	if r.snk == nil {
		return nil
	}

	err := r.snk.WriteScoring(ctx, sink.ScoringSnapshot{TakenAt: now, Orders: orders})
	if err != nil {
		return fmt.Errorf("write scoring snapshot: %w", err)
	}

	return nil
}
