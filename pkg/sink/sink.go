// Package sink defines the opaque persistence boundary for the routing
// core. A sink accepts batches of execution records plus optional
// aggregate and scoring snapshots; no schema is assumed beyond
// serializable primitives. Shipped implementations: SQLite, codec-based
// files, in-memory (tests), and no-op.
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/omniroute/omniroute/pkg/routing"
)

// AggregateSnapshot is the periodic roll-up written by the tracker's
// aggregation loop.
type AggregateSnapshot struct {
	TakenAt    time.Time                  `json:"taken_at"`
	Adapters   []routing.AdapterStats     `json:"adapters"`
	TaskCounts map[routing.TaskKind]int64 `json:"task_counts"`
}

// ScoringSnapshot is the preference-order roll-up written by the weekly
// recalculation loop.
type ScoringSnapshot struct {
	TakenAt time.Time                 `json:"taken_at"`
	Orders  []routing.PreferenceOrder `json:"orders"`
}

// Sink is the opaque persistence boundary.
type Sink interface {
	// WriteRecords persists a batch of completed execution records.
	WriteRecords(ctx context.Context, records []routing.ExecutionRecord) error
	// WriteAggregate persists an aggregate snapshot.
	WriteAggregate(ctx context.Context, snap AggregateSnapshot) error
	// WriteScoring persists a scoring snapshot.
	WriteScoring(ctx context.Context, snap ScoringSnapshot) error
	// Close releases sink resources.
	Close() error
}

// retriable is implemented by errors whose write may be retried.
type retriable interface {
	Retriable() bool
}

// retriableError marks a wrapped error as retriable.
type retriableError struct {
	err error
}

func (e *retriableError) Error() string   { return e.err.Error() }
func (e *retriableError) Unwrap() error   { return e.err }
func (e *retriableError) Retriable() bool { return true }

// MarkRetriable wraps err so Retriable reports true for it.
func MarkRetriable(err error) error {
	if err == nil {
		return nil
	}

	return &retriableError{err: err}
}

// Retriable reports whether a sink write error signals that the batch may
// be re-queued. Unmarked errors are terminal and the batch is dropped
// after bounded retry.
func Retriable(err error) bool {
	var r retriable

	return errors.As(err, &r) && r.Retriable()
}

// Noop is a Sink that discards everything.
type Noop struct{}

// WriteRecords implements Sink.
func (Noop) WriteRecords(context.Context, []routing.ExecutionRecord) error { return nil }

// WriteAggregate implements Sink.
func (Noop) WriteAggregate(context.Context, AggregateSnapshot) error { return nil }

// WriteScoring implements Sink.
func (Noop) WriteScoring(context.Context, ScoringSnapshot) error { return nil }

// Close implements Sink.
func (Noop) Close() error { return nil }

// Memory is a Sink that retains everything in memory. Intended for tests
// and the status snapshot path.
type Memory struct {
	mu         sync.Mutex
	records    []routing.ExecutionRecord
	aggregates []AggregateSnapshot
	scorings   []ScoringSnapshot

	// FailWrites, when non-nil, is returned from every write. Tests use
	// it to exercise the flush retry path.
	FailWrites error
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// WriteRecords implements Sink.
func (m *Memory) WriteRecords(_ context.Context, records []routing.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}

	m.records = append(m.records, records...)

	return nil
}

// WriteAggregate implements Sink.
func (m *Memory) WriteAggregate(_ context.Context, snap AggregateSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}

	m.aggregates = append(m.aggregates, snap)

	return nil
}

// WriteScoring implements Sink.
func (m *Memory) WriteScoring(_ context.Context, snap ScoringSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}

	m.scorings = append(m.scorings, snap)

	return nil
}

// Close implements Sink.
func (m *Memory) Close() error { return nil }

// Records returns a copy of all persisted records.
func (m *Memory) Records() []routing.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]routing.ExecutionRecord, len(m.records))
	copy(out, m.records)

	return out
}

// Aggregates returns a copy of all persisted aggregate snapshots.
func (m *Memory) Aggregates() []AggregateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AggregateSnapshot, len(m.aggregates))
	copy(out, m.aggregates)

	return out
}

// Scorings returns a copy of all persisted scoring snapshots.
func (m *Memory) Scorings() []ScoringSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ScoringSnapshot, len(m.scorings))
	copy(out, m.scorings)

	return out
}
