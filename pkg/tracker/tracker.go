// Package tracker is the authoritative in-memory source for per-adapter
// statistics and per-execution audit records. It samples execution
// starts, maintains rolling aggregates, and persists completed records to
// an opaque sink in batches.
package tracker

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omniroute/omniroute/pkg/featureflag"
	"github.com/omniroute/omniroute/pkg/routing"
	"github.com/omniroute/omniroute/pkg/sink"
)

// Defaults for tracker construction.
const (
	DefaultBatchSize         = 100
	DefaultBatchTimeout      = 5 * time.Second
	DefaultAggregateInterval = time.Minute
	DefaultMinSamples        = 10
	DefaultActiveTTL         = 24 * time.Hour
	DefaultRecentCapacity    = 1000
)

// bufferOverflowFactor bounds the completed buffer at this multiple of
// the batch size before eager flushing kicks in.
const bufferOverflowFactor = 10

// Construction errors.
var (
	// ErrInvalidSamplingRate indicates a rate outside [0, 1].
	ErrInvalidSamplingRate = errors.New("sampling rate must be within [0, 1]")
	// ErrInvalidBatchSize indicates a non-positive batch size.
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	// ErrUnknownStrategy indicates an unrecognized sampling strategy.
	ErrUnknownStrategy = errors.New("unknown sampling strategy")
)

// Config holds tracker knobs. Zero values select the documented defaults.
type Config struct {
	Strategy          Strategy
	SamplingRate      float64
	BatchSize         int
	BatchTimeout      time.Duration
	AggregateInterval time.Duration
	MinSamples        int
	ActiveTTL         time.Duration
	RecentCapacity    int
}

// withDefaults fills zero fields with the documented defaults.
func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyFull
	}

	if c.SamplingRate == 0 && c.Strategy != StrategyHighFrequency {
		c.SamplingRate = 1.0
	}

	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.BatchTimeout == 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}

	if c.AggregateInterval == 0 {
		c.AggregateInterval = DefaultAggregateInterval
	}

	if c.MinSamples == 0 {
		c.MinSamples = DefaultMinSamples
	}

	if c.ActiveTTL == 0 {
		c.ActiveTTL = DefaultActiveTTL
	}

	if c.RecentCapacity == 0 {
		c.RecentCapacity = DefaultRecentCapacity
	}

	return c
}

// validate checks construction invariants.
func (c Config) validate() error {
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidSamplingRate
	}

	if c.BatchSize < 0 {
		return ErrInvalidBatchSize
	}

	switch c.Strategy {
	case StrategyFull, StrategyLowFrequency, StrategyHighFrequency, StrategyAdaptive:
		return nil
	default:
		return ErrUnknownStrategy
	}
}

// adapterCounters are the atomic per-adapter outcome counters.
type adapterCounters struct {
	success atomic.Int64
	failure atomic.Int64
}

// Outcome carries the terminal state reported to RecordEnd. A nil
// LatencyMS is derived from the recorded start time.
type Outcome struct {
	Success      bool
	Status       routing.ExecutionStatus
	LatencyMS    *float64
	ErrorType    string
	ErrorMessage string
	CostUSD      *decimal.Decimal
}

// TaskKindStats is the per-task-kind view.
type TaskKindStats struct {
	ExecutionCount int64 `json:"execution_count"`
}

// Health is the tracker's self-report.
type Health struct {
	Status            string    `json:"status"`
	ActiveCount       int       `json:"active_count"`
	PendingWrites     int       `json:"pending_writes"`
	SamplingStrategy  Strategy  `json:"sampling_strategy"`
	LastAggregationAt time.Time `json:"last_aggregation_at"`
	DroppedWrites     int64     `json:"dropped_aggregate_writes"`
}

// Tracker records execution lifecycles and rolling adapter statistics.
// All methods are safe for concurrent use.
type Tracker struct {
	cfg     Config
	logger  *slog.Logger
	flags   featureflag.Source
	snk     sink.Sink
	sampler *sampler

	mu     sync.Mutex
	active map[string]routing.ActiveExecution

	countsMu   sync.Mutex
	taskCounts map[routing.TaskKind]int64

	statsMu sync.RWMutex
	stats   map[routing.AdapterKind]*adapterCounters

	bufMu  sync.Mutex
	buffer []routing.ExecutionRecord

	recentMu sync.Mutex
	recent   []routing.ExecutionRecord

	flushOpMu     sync.Mutex
	flushing      atomic.Bool
	droppedWrites atomic.Int64

	lastAggregation atomic.Int64 // unix nanos, 0 = never

	lifecycleMu sync.Mutex
	cancel      func()
	done        chan struct{}
}

// New creates a tracker. The sink may be nil, in which case completed
// batches are dropped after aggregation. A nil flag source enables
// learning recording unconditionally.
func New(cfg Config, snk sink.Sink, flags featureflag.Source, logger *slog.Logger) (*Tracker, error) {
	cfg = cfg.withDefaults()

	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	if flags == nil {
		flags = featureflag.AllEnabled{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "tracker")),
		flags:      flags,
		snk:        snk,
		active:     make(map[string]routing.ActiveExecution),
		taskCounts: make(map[routing.TaskKind]int64),
		stats:      make(map[routing.AdapterKind]*adapterCounters),
	}
	t.sampler = newSampler(cfg.Strategy, cfg.SamplingRate)

	return t, nil
}

// newExecutionID returns a time-ordered, lexicographically sortable ID.
func newExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Entropy exhaustion only; a random ID keeps the caller moving.
		id = uuid.New()
	}

	return id.String()
}

// RecordStart registers an in-flight execution and returns its ID. When
// the sampling strategy declines the execution (or the learning system is
// disabled), the ID is still returned and the matching RecordEnd becomes
// a no-op; callers need not branch.
func (t *Tracker) RecordStart(adapter routing.AdapterKind, kind routing.TaskKind, repos []string) string {
	id := newExecutionID()

	if !t.flags.Enabled(featureflag.LearningSystem) {
		return id
	}

	if !t.sampler.sample(kind) {
		return id
	}

	entry := routing.ActiveExecution{
		ExecutionID: id,
		Adapter:     adapter,
		TaskKind:    kind,
		StartTS:     time.Now().UTC(),
		Repos:       repos,
	}

	t.mu.Lock()
	t.active[id] = entry
	t.mu.Unlock()

	t.countsMu.Lock()
	t.taskCounts[kind]++
	t.countsMu.Unlock()

	return id
}

// RecordEnd completes an execution. An unknown ID (unsampled or aged out)
// returns silently; that is the normal path for unsampled executions.
func (t *Tracker) RecordEnd(id string, outcome Outcome) {
	t.mu.Lock()
	entry, ok := t.active[id]
	if ok {
		delete(t.active, id)
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	now := time.Now().UTC()

	latency := float64(now.Sub(entry.StartTS)) / float64(time.Millisecond)
	if outcome.LatencyMS != nil {
		latency = *outcome.LatencyMS
	}

	if latency < 0 {
		latency = 0
	}

	status := outcome.Status
	if status == "" {
		status = routing.StatusFailure
		if outcome.Success {
			status = routing.StatusSuccess
		}
	}

	rec := routing.ExecutionRecord{
		ExecutionID:  id,
		Adapter:      entry.Adapter,
		TaskKind:     entry.TaskKind,
		StartTS:      entry.StartTS,
		EndTS:        now,
		Status:       status,
		LatencyMS:    latency,
		ErrorType:    outcome.ErrorType,
		ErrorMessage: outcome.ErrorMessage,
		CostUSD:      outcome.CostUSD,
	}

	t.recordCompletion(rec, outcome.Success)
}

// recordCompletion appends the record, bumps counters, and triggers a
// flush when the batch threshold is reached.
func (t *Tracker) recordCompletion(rec routing.ExecutionRecord, success bool) {
	counters := t.countersFor(rec.Adapter)
	if success {
		counters.success.Add(1)
	} else {
		counters.failure.Add(1)
	}

	t.recentMu.Lock()
	t.recent = append(t.recent, rec)
	if len(t.recent) > t.cfg.RecentCapacity {
		t.recent = t.recent[len(t.recent)-t.cfg.RecentCapacity:]
	}
	t.recentMu.Unlock()

	t.bufMu.Lock()
	t.buffer = append(t.buffer, rec)
	size := len(t.buffer)
	t.bufMu.Unlock()

	if size > t.cfg.BatchSize*bufferOverflowFactor {
		t.droppedWrites.Add(1)
	}

	if size >= t.cfg.BatchSize {
		go t.flushAsync()
	}
}

// countersFor returns the counters for an adapter, creating them on
// first use.
func (t *Tracker) countersFor(adapter routing.AdapterKind) *adapterCounters {
	t.statsMu.RLock()
	counters, ok := t.stats[adapter]
	t.statsMu.RUnlock()

	if ok {
		return counters
	}

	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	counters, ok = t.stats[adapter]
	if !ok {
		counters = &adapterCounters{}
		t.stats[adapter] = counters
	}

	return counters
}

// AdapterStatsFor returns the rolling stats for an adapter. The second
// return is false until the adapter has at least MinSamples completions.
func (t *Tracker) AdapterStatsFor(adapter routing.AdapterKind) (routing.AdapterStats, bool) {
	t.statsMu.RLock()
	counters, ok := t.stats[adapter]
	t.statsMu.RUnlock()

	if !ok {
		return routing.AdapterStats{}, false
	}

	stats := routing.AdapterStats{
		Adapter:      adapter,
		SuccessCount: counters.success.Load(),
		FailureCount: counters.failure.Load(),
	}

	if stats.Total() < int64(t.cfg.MinSamples) {
		return routing.AdapterStats{}, false
	}

	return stats, true
}

// TaskKindStatsFor returns the execution count observed for a task kind.
func (t *Tracker) TaskKindStatsFor(kind routing.TaskKind) TaskKindStats {
	return TaskKindStats{ExecutionCount: t.taskKindCount(kind)}
}

func (t *Tracker) taskKindCount(kind routing.TaskKind) int64 {
	t.countsMu.Lock()
	defer t.countsMu.Unlock()

	return t.taskCounts[kind]
}

// RecentExecutions returns up to limit completed records, most recent
// last. A non-positive limit returns everything retained.
func (t *Tracker) RecentExecutions(limit int) []routing.ExecutionRecord {
	t.recentMu.Lock()
	defer t.recentMu.Unlock()

	n := len(t.recent)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]routing.ExecutionRecord, n)
	copy(out, t.recent[len(t.recent)-n:])

	return out
}

// Health reports the tracker's operational state.
func (t *Tracker) Health() Health {
	t.mu.Lock()
	activeCount := len(t.active)
	t.mu.Unlock()

	t.bufMu.Lock()
	pending := len(t.buffer)
	t.bufMu.Unlock()

	var last time.Time
	if nanos := t.lastAggregation.Load(); nanos > 0 {
		last = time.Unix(0, nanos).UTC()
	}

	return Health{
		Status:            "healthy",
		ActiveCount:       activeCount,
		PendingWrites:     pending,
		SamplingStrategy:  t.cfg.Strategy,
		LastAggregationAt: last,
		DroppedWrites:     t.droppedWrites.Load(),
	}
}
