// Package stats turns rolling adapter statistics and recent latencies
// into per-task-kind preference orders, and manages the lifecycle of A/B
// routing experiments.
package stats

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/omniroute/omniroute/pkg/metrics"
	"github.com/omniroute/omniroute/pkg/routing"
	"github.com/omniroute/omniroute/pkg/sink"
)

// Defaults for router construction.
const (
	DefaultMinSamples    = 100
	DefaultCacheTTL      = time.Hour
	DefaultErrorBackoff  = 5 * time.Minute
	DefaultLatencyWindow = 100
)

// Latency score mapping constants: 100 ms scores 1.0, 10 s scores 0.0 on
// a log10 scale.
const (
	latencyFloorMS    = 100
	latencyLogOffset  = 2
	latencyLogDivisor = 2
)

// neutralLatencyScore is used when no latency data exists.
const neutralLatencyScore = 0.5

// Construction errors.
var (
	// ErrInvalidMinSamples indicates a negative min-samples setting.
	ErrInvalidMinSamples = errors.New("min samples must be non-negative")
)

// Source provides the tracker-owned data the router scores from.
type Source interface {
	// AdapterStatsFor returns rolling stats; false means insufficient data.
	AdapterStatsFor(adapter routing.AdapterKind) (routing.AdapterStats, bool)
	// RecentExecutions returns up to limit completed records, most
	// recent last. Non-positive limit returns everything retained.
	RecentExecutions(limit int) []routing.ExecutionRecord
}

// Config holds scoring knobs. Zero values select the documented defaults.
type Config struct {
	// MinSamples is the sample count for high confidence; the medium and
	// low tiers derive as MinSamples/2 and MinSamples/5. Zero MinSamples
	// makes every adapter eligible immediately.
	MinSamples    int
	CacheTTL      time.Duration
	ErrorBackoff  time.Duration
	LatencyWindow int

	// Explicit zero knobs use the negative sentinel through
	// WithoutMinimumSamples rather than the zero value.
	noMinSamples bool
}

// WithoutMinimumSamples marks every adapter as immediately eligible,
// bypassing all confidence-tier gating.
func (c Config) WithoutMinimumSamples() Config {
	c.MinSamples = 0
	c.noMinSamples = true

	return c
}

func (c Config) withDefaults() Config {
	if c.MinSamples == 0 && !c.noMinSamples {
		c.MinSamples = DefaultMinSamples
	}

	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}

	if c.ErrorBackoff == 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}

	if c.LatencyWindow == 0 {
		c.LatencyWindow = DefaultLatencyWindow
	}

	return c
}

// tier thresholds derived from the configured high-confidence count.
func (c Config) tiers() (high, medium, low int) {
	return c.MinSamples, c.MinSamples / 2, c.MinSamples / 5
}

// confidenceFor maps a sample count onto a tier under this config.
func (c Config) confidenceFor(n int) routing.Confidence {
	high, medium, low := c.tiers()

	switch {
	case n >= high:
		return routing.ConfidenceHigh
	case n >= medium && medium > 0:
		return routing.ConfidenceMedium
	case n >= low && low > 0:
		return routing.ConfidenceLow
	case c.MinSamples == 0:
		// No gating configured; whatever data exists is trusted.
		return routing.ConfidenceHigh
	default:
		return routing.ConfidenceInsufficient
	}
}

// eligible reports whether a sample count qualifies for scoring at all.
func (c Config) eligible(n int) bool {
	if c.MinSamples == 0 {
		return true
	}

	_, _, low := c.tiers()

	return n >= low
}

type cachedOrder struct {
	order   routing.PreferenceOrder
	expires time.Time
}

// Router computes preference orders and manages experiments.
// All methods are safe for concurrent use.
type Router struct {
	cfg     Config
	logger  *slog.Logger
	src     Source
	snk     sink.Sink
	emitter metrics.Emitter

	cacheMu sync.RWMutex
	cache   map[routing.TaskKind]cachedOrder
	// overrides pins a task kind to an experiment winner until the next
	// recalculation.
	overrides map[routing.TaskKind]routing.PreferenceOrder

	expMu       sync.Mutex
	experiments map[string]*experimentState

	lifecycleMu sync.Mutex
	cancel      func()
	done        chan struct{}
}

// New creates a statistical router over the given source. The sink and
// emitter may be nil.
func New(cfg Config, src Source, snk sink.Sink, emitter metrics.Emitter, logger *slog.Logger) (*Router, error) {
	cfg = cfg.withDefaults()

	if cfg.MinSamples < 0 {
		return nil, ErrInvalidMinSamples
	}

	if emitter == nil {
		emitter = metrics.Nop{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "stats")),
		src:         src,
		snk:         snk,
		emitter:     emitter,
		cache:       make(map[routing.TaskKind]cachedOrder),
		overrides:   make(map[routing.TaskKind]routing.PreferenceOrder),
		experiments: make(map[string]*experimentState),
	}, nil
}

// PreferenceOrder returns the ranked adapter list for a task kind.
// Completed-experiment overrides win over the cache; the cache holds
// computed orders for the configured TTL.
func (r *Router) PreferenceOrder(kind routing.TaskKind) routing.PreferenceOrder {
	r.cacheMu.RLock()
	if override, ok := r.overrides[kind]; ok {
		r.cacheMu.RUnlock()

		return override
	}

	if entry, ok := r.cache[kind]; ok && time.Now().Before(entry.expires) {
		r.cacheMu.RUnlock()

		return entry.order
	}
	r.cacheMu.RUnlock()

	order := r.compute(kind)

	r.cacheMu.Lock()
	r.cache[kind] = cachedOrder{order: order, expires: time.Now().Add(r.cfg.CacheTTL)}
	r.cacheMu.Unlock()

	return order
}

// InvalidateCache drops all cached orders. Overrides survive; they clear
// only on recalculation.
func (r *Router) InvalidateCache() {
	r.cacheMu.Lock()
	r.cache = make(map[routing.TaskKind]cachedOrder)
	r.cacheMu.Unlock()
}

// compute builds a fresh preference order for a task kind. Adapters
// without enough data are omitted from scoring and appended after the
// scored ones in static default order, so the result is always a
// permutation of the configured adapter set.
func (r *Router) compute(kind routing.TaskKind) routing.PreferenceOrder {
	type scored struct {
		score   routing.AdapterScore
		medianL float64
	}

	var ranked []scored

	var unscored []routing.AdapterKind

	for _, adapter := range routing.AllAdapters() {
		score, median, ok := r.scoreFor(adapter, kind)
		if !ok {
			unscored = append(unscored, adapter)

			continue
		}

		ranked = append(ranked, scored{score: score, medianL: median})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]

		if a.score.CombinedScore != b.score.CombinedScore {
			return a.score.CombinedScore > b.score.CombinedScore
		}

		if a.score.SuccessRate != b.score.SuccessRate {
			return a.score.SuccessRate > b.score.SuccessRate
		}

		if a.medianL != b.medianL {
			return a.medianL < b.medianL
		}

		return a.score.Adapter.Ordinal() < b.score.Adapter.Ordinal()
	})

	if len(ranked) == 0 {
		return routing.PreferenceOrder{
			TaskKind:   kind,
			Adapters:   routing.AllAdapters(),
			Confidence: routing.ConfidenceInsufficient,
			Variant:    routing.VariantNone,
		}
	}

	order := routing.PreferenceOrder{
		TaskKind:   kind,
		Adapters:   make([]routing.AdapterKind, 0, len(routing.AllAdapters())),
		Scores:     make(map[routing.AdapterKind]routing.AdapterScore, len(ranked)),
		Confidence: ranked[0].score.Confidence,
		Variant:    routing.VariantNone,
	}

	for _, entry := range ranked {
		order.Adapters = append(order.Adapters, entry.score.Adapter)
		order.Scores[entry.score.Adapter] = entry.score
	}

	order.Adapters = append(order.Adapters, unscored...)

	return order
}

// scoreFor computes the adapter's score for a task kind. The third
// return is false when the adapter lacks enough data.
func (r *Router) scoreFor(adapter routing.AdapterKind, kind routing.TaskKind) (routing.AdapterScore, float64, bool) {
	adapterStats, ok := r.src.AdapterStatsFor(adapter)
	if !ok {
		return routing.AdapterScore{}, 0, false
	}

	total := int(adapterStats.Total())
	if !r.cfg.eligible(total) {
		return routing.AdapterScore{}, 0, false
	}

	median, hasLatency := r.medianLatency(adapter, kind)

	latencyScore := neutralLatencyScore
	if hasLatency {
		latencyScore = latencyScoreFor(median)
	}

	weights := routing.WeightsFor(kind)
	successRate := adapterStats.SuccessRate()

	return routing.AdapterScore{
		Adapter:       adapter,
		TaskKind:      kind,
		SuccessRate:   successRate,
		LatencyScore:  latencyScore,
		CombinedScore: weights.Success*successRate + weights.Speed*latencyScore,
		SampleCount:   total,
		Confidence:    r.cfg.confidenceFor(total),
	}, median, true
}

// latencyScoreFor maps a median latency in milliseconds onto [0, 1] on a
// log10 scale: 100 ms scores 1.0, 1 s scores 0.5, 10 s scores 0.0.
func latencyScoreFor(medianMS float64) float64 {
	floored := math.Max(medianMS, latencyFloorMS)

	return routing.Clamp01(1 - (math.Log10(floored)-latencyLogOffset)/latencyLogDivisor)
}

// medianLatency returns the median latency over the most recent (up to)
// LatencyWindow executions of (adapter, kind).
func (r *Router) medianLatency(adapter routing.AdapterKind, kind routing.TaskKind) (float64, bool) {
	recent := r.src.RecentExecutions(0)

	var latencies []float64

	for idx := len(recent) - 1; idx >= 0 && len(latencies) < r.cfg.LatencyWindow; idx-- {
		rec := recent[idx]
		if rec.Adapter == adapter && rec.TaskKind == kind {
			latencies = append(latencies, rec.LatencyMS)
		}
	}

	if len(latencies) == 0 {
		return 0, false
	}

	sort.Float64s(latencies)

	mid := len(latencies) / 2
	if len(latencies)%2 == 1 {
		return latencies[mid], true
	}

	return (latencies[mid-1] + latencies[mid]) / 2, true
}
