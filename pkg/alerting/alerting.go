// Package alerting evaluates adapter and cost health on a fixed cadence
// and fans findings out through pluggable alert sinks.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omniroute/omniroute/pkg/routing"
)

// Defaults for manager construction.
const (
	DefaultEvaluationInterval   = time.Minute
	DefaultSuccessRateThreshold = 0.95
	DefaultFallbackRate         = 0.10
	DefaultCostSpikeMultiplier  = 2.0
)

// Degradation and fallback severity cutoffs.
const (
	criticalSuccessRate  = 0.80
	criticalFallbackRate = 0.30
	warningSpikeRatio    = 1.5
	degradationMinTotal  = 10
)

// StatsSource provides per-adapter statistics for degradation checks.
type StatsSource interface {
	AdapterStatsFor(adapter routing.AdapterKind) (routing.AdapterStats, bool)
}

// CostSource provides the accrued cost total for spike detection.
type CostSource interface {
	TotalAccrued() decimal.Decimal
}

// FallbackFunc reports the fallback and total dispatch counts for the
// current window.
type FallbackFunc func() (fallbacks, total int64)

// Config holds alert manager knobs. Zero values select the documented
// defaults.
type Config struct {
	EvaluationInterval    time.Duration
	SuccessRateThreshold  float64
	FallbackRateThreshold float64
	CostSpikeMultiplier   float64
}

func (c Config) withDefaults() Config {
	if c.EvaluationInterval == 0 {
		c.EvaluationInterval = DefaultEvaluationInterval
	}

	if c.SuccessRateThreshold == 0 {
		c.SuccessRateThreshold = DefaultSuccessRateThreshold
	}

	if c.FallbackRateThreshold == 0 {
		c.FallbackRateThreshold = DefaultFallbackRate
	}

	if c.CostSpikeMultiplier == 0 {
		c.CostSpikeMultiplier = DefaultCostSpikeMultiplier
	}

	return c
}

// Manager owns the evaluation loop and the sink fan-out. The baselines
// it keeps between cycles are touched only by the loop goroutine.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	stats  StatsSource
	costs  CostSource
	fbFn   FallbackFunc

	sinkMu sync.Mutex
	sinks  []Sink

	// costBaseline is the accrued total sampled on the previous cycle.
	// Nil until the first evaluation establishes it.
	costBaseline *decimal.Decimal

	lifecycleMu sync.Mutex
	cancel      func()
	done        chan struct{}
}

// New creates an alert manager. Any collaborator may be nil; the
// matching evaluation is skipped.
func New(cfg Config, stats StatsSource, costs CostSource, fbFn FallbackFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "alerting")),
		stats:  stats,
		costs:  costs,
		fbFn:   fbFn,
	}
}

// AddSink registers an alert destination.
func (m *Manager) AddSink(s Sink) {
	m.sinkMu.Lock()
	m.sinks = append(m.sinks, s)
	m.sinkMu.Unlock()
}

// Send fans an alert out to every sink. Sink failures are logged and
// never abort delivery to the remaining sinks.
func (m *Manager) Send(ctx context.Context, alert routing.Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	m.sinkMu.Lock()
	sinks := make([]Sink, len(m.sinks))
	copy(sinks, m.sinks)
	m.sinkMu.Unlock()

	for _, s := range sinks {
		err := s.SendAlert(ctx, alert)
		if err != nil {
			m.logger.Warn("alert sink failed",
				slog.String("alert_type", string(alert.Kind)),
				slog.Any("error", err))
		}
	}
}

// Start launches the evaluation loop. Calling Start on a running manager
// is a no-op.
func (m *Manager) Start(context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(loopCtx)

	return nil
}

// Running reports whether the evaluation loop is active.
func (m *Manager) Running() bool {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	return m.cancel != nil
}

// Stop cancels the evaluation loop and waits for it to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifecycleMu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.lifecycleMu.Unlock()

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

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate(ctx)
		}
	}
}

// Evaluate runs all health checks once. Individual check failures never
// abort the remaining checks.
func (m *Manager) Evaluate(ctx context.Context) {
	m.checkDegradation(ctx)
	m.checkCostSpike(ctx)
	m.checkFallbacks(ctx)
}

// checkDegradation alerts on adapters whose success rate fell under the
// threshold. Adapters with fewer than ten completions are skipped.
func (m *Manager) checkDegradation(ctx context.Context) {
	if m.stats == nil {
		return
	}

	for _, adapter := range routing.AllAdapters() {
		stats, ok := m.stats.AdapterStatsFor(adapter)
		if !ok || stats.Total() < degradationMinTotal {
			continue
		}

		rate := stats.SuccessRate()
		if rate >= m.cfg.SuccessRateThreshold {
			continue
		}

		severity := routing.SeverityWarning
		if rate < criticalSuccessRate {
			severity = routing.SeverityCritical
		}

		m.Send(ctx, routing.Alert{
			Kind:           routing.AlertAdapterDegradation,
			Severity:       severity,
			Message:        fmt.Sprintf("adapter %s success rate %.1f%% below threshold %.1f%%", adapter, rate*100, m.cfg.SuccessRateThreshold*100),
			Adapter:        adapter,
			CurrentValue:   rate,
			ThresholdValue: m.cfg.SuccessRateThreshold,
			Timestamp:      time.Now().UTC(),
			Metadata: map[string]any{
				"total_executions": stats.Total(),
			},
		})
	}
}

// checkCostSpike compares the current accrued total to the previous
// sample. The first cycle only establishes the baseline.
func (m *Manager) checkCostSpike(ctx context.Context) {
	if m.costs == nil {
		return
	}

	current := m.costs.TotalAccrued()

	baseline := m.costBaseline
	m.costBaseline = &current

	if baseline == nil || !baseline.IsPositive() {
		return
	}

	ratio, _ := current.Div(*baseline).Float64()
	if ratio < warningSpikeRatio {
		return
	}

	severity := routing.SeverityWarning
	if ratio >= m.cfg.CostSpikeMultiplier {
		severity = routing.SeverityCritical
	}

	currentF, _ := current.Float64()
	baselineF, _ := baseline.Float64()

	m.Send(ctx, routing.Alert{
		Kind:           routing.AlertCostSpike,
		Severity:       severity,
		Message:        fmt.Sprintf("accrued cost rose from $%.2f to $%.2f", baselineF, currentF),
		CurrentValue:   currentF,
		ThresholdValue: baselineF,
		Timestamp:      time.Now().UTC(),
		Metadata: map[string]any{
			"change_percent": fmt.Sprintf("%.0f%%", (ratio-1)*100),
		},
	})
}

// checkFallbacks alerts when the fallback rate for the window exceeds
// the threshold.
func (m *Manager) checkFallbacks(ctx context.Context) {
	if m.fbFn == nil {
		return
	}

	fallbacks, total := m.fbFn()
	if total == 0 {
		return
	}

	rate := float64(fallbacks) / float64(total)
	if rate <= m.cfg.FallbackRateThreshold {
		return
	}

	severity := routing.SeverityWarning
	if rate > criticalFallbackRate {
		severity = routing.SeverityCritical
	}

	m.Send(ctx, routing.Alert{
		Kind:           routing.AlertExcessiveFallbacks,
		Severity:       severity,
		Message:        fmt.Sprintf("fallback rate %.1f%% exceeds threshold %.1f%%", rate*100, m.cfg.FallbackRateThreshold*100),
		CurrentValue:   rate,
		ThresholdValue: m.cfg.FallbackRateThreshold,
		Timestamp:      time.Now().UTC(),
		Metadata: map[string]any{
			"fallback_count": fallbacks,
			"total_count":    total,
		},
	})
}
