package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/omniroute/omniroute/pkg/routing"
	"github.com/omniroute/omniroute/pkg/sink"
)

// Flush retry bounds.
const (
	flushAttempts     = 3
	flushBackoffBase  = 100 * time.Millisecond
	flushBackoffScale = 2
)

// Flush result statuses.
const (
	FlushStatusFlushed   = "flushed"
	FlushStatusNoRecords = "no_records"
	FlushStatusNoSink    = "no_sink"
	FlushStatusDropped   = "dropped"
	FlushStatusRequeued  = "requeued"
)

// FlushResult reports the outcome of one flush pass.
type FlushResult struct {
	Written int    `json:"written"`
	Status  string `json:"status"`
}

// Flush drains the completed buffer to the sink. Exactly one flush runs
// at a time; concurrent callers block. Flushing an empty buffer is a
// no-op returning written=0, status=no_records.
func (t *Tracker) Flush(ctx context.Context) (FlushResult, error) {
	t.flushOpMu.Lock()
	defer t.flushOpMu.Unlock()

	t.bufMu.Lock()
	batch := t.buffer
	t.buffer = nil
	t.bufMu.Unlock()

	if len(batch) == 0 {
		return FlushResult{Written: 0, Status: FlushStatusNoRecords}, nil
	}

	if t.snk == nil {
		return FlushResult{Written: 0, Status: FlushStatusNoSink}, nil
	}

	err := t.writeWithRetry(ctx, batch)
	if err == nil {
		return FlushResult{Written: len(batch), Status: FlushStatusFlushed}, nil
	}

	if sink.Retriable(err) {
		t.requeue(batch)
		t.logger.Warn("flush failed, batch re-queued",
			slog.Int("records", len(batch)), slog.Any("error", err))

		return FlushResult{Written: 0, Status: FlushStatusRequeued}, err
	}

	t.logger.Error("flush failed, batch dropped",
		slog.Int("records", len(batch)), slog.Any("error", err))

	return FlushResult{Written: 0, Status: FlushStatusDropped}, err
}

// writeWithRetry attempts the sink write with bounded exponential backoff.
func (t *Tracker) writeWithRetry(ctx context.Context, batch []routing.ExecutionRecord) error {
	var lastErr error

	delay := flushBackoffBase

	for attempt := range flushAttempts {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}

			delay *= flushBackoffScale
		}

		lastErr = t.snk.WriteRecords(ctx, batch)
		if lastErr == nil {
			return nil
		}
	}

	return lastErr
}

// requeue prepends a failed batch so flush order stays oldest-first.
func (t *Tracker) requeue(batch []routing.ExecutionRecord) {
	t.bufMu.Lock()
	t.buffer = append(batch, t.buffer...)
	t.bufMu.Unlock()
}

// flushAsync runs one flush pass unless another is already in flight.
// The threshold trigger uses this to avoid goroutine pileup under load.
func (t *Tracker) flushAsync() {
	if !t.flushing.CompareAndSwap(false, true) {
		return
	}
	defer t.flushing.Store(false)

	// Errors are logged inside Flush with batch context.
	_, _ = t.Flush(context.Background())
}
