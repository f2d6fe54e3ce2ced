package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/omniroute/omniroute/pkg/featureflag"
	"github.com/omniroute/omniroute/pkg/metrics"
	"github.com/omniroute/omniroute/pkg/routing"
)

// Instrument names. The Prometheus exporter renders dots as underscores,
// so routing.decisions.total scrapes as routing_decisions_total.
const (
	metricDecisions        = "routing.decisions.total"
	metricExecutions       = "adapter.executions.total"
	metricAdapterLatency   = "adapter.latency.seconds"
	metricRoutingDuration  = "routing.duration.seconds"
	metricFallbacks        = "routing.fallbacks.total"
	metricChainLength      = "routing.fallback.chain.length"
	metricCostTotal        = "routing.cost.usd.total"
	metricCostCurrent      = "routing.cost.usd.current"
	metricCostDistribution = "routing.cost.usd.distribution"
	metricBudgetAlerts     = "budget.alerts.total"
	metricABTests          = "ab.tests.total"
	metricABActive         = "ab.tests.active"
)

// Label keys.
const (
	attrServer          = "server"
	attrAdapter         = "adapter"
	attrTaskType        = "task_type"
	attrStatus          = "status"
	attrOriginalAdapter = "original_adapter"
	attrFallbackAdapter = "fallback_adapter"
	attrBudgetType      = "budget_type"
	attrSeverity        = "severity"
	attrExperimentID    = "experiment_id"
	attrEventType       = "event_type"
)

// adapterLatencyBoundaries covers 10ms adapter round trips up to
// two-minute workflow runs.
var adapterLatencyBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// chainLengthBoundaries covers chains across the full adapter set plus
// headroom for future additions.
var chainLengthBoundaries = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

// costBoundaries covers per-execution cost from fractions of a cent to
// one dollar.
var costBoundaries = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// RoutingMetrics is the Prometheus-shaped implementation of
// [metrics.Emitter]. Every instrument carries the server label fixed at
// construction. When the prometheus_metrics_enabled flag is off, all
// emissions are skipped.
type RoutingMetrics struct {
	server attribute.KeyValue
	flags  featureflag.Source

	decisions        metric.Int64Counter
	executions       metric.Int64Counter
	adapterLatency   metric.Float64Histogram
	routingDuration  metric.Float64Histogram
	fallbacks        metric.Int64Counter
	chainLength      metric.Float64Histogram
	costTotal        metric.Float64Counter
	costCurrent      metric.Float64Gauge
	costDistribution metric.Float64Histogram
	budgetAlerts     metric.Int64Counter
	abTests          metric.Int64Counter
	abActive         metric.Int64UpDownCounter
}

// NewRoutingMetrics creates the routing instrument set on the given
// meter. A nil flag source enables everything.
func NewRoutingMetrics(mt metric.Meter, server string, flags featureflag.Source) (*RoutingMetrics, error) {
	if flags == nil {
		flags = featureflag.AllEnabled{}
	}

	b := newMetricBuilder(mt)

	rm := &RoutingMetrics{
		server: attribute.String(attrServer, server),
		flags:  flags,

		decisions:        b.counter(metricDecisions, "Total routing decisions", "{decision}"),
		executions:       b.counter(metricExecutions, "Total adapter execution attempts", "{execution}"),
		adapterLatency:   b.histogram(metricAdapterLatency, "Adapter execution latency in seconds", "s", adapterLatencyBoundaries...),
		routingDuration:  b.histogram(metricRoutingDuration, "Total dispatch wall time in seconds", "s", adapterLatencyBoundaries...),
		fallbacks:        b.counter(metricFallbacks, "Total fallback hops between adapters", "{fallback}"),
		chainLength:      b.histogram(metricChainLength, "Adapters attempted per dispatch", "{adapter}", chainLengthBoundaries...),
		costTotal:        b.floatCounter(metricCostTotal, "Total accrued execution cost in USD", "USD"),
		costCurrent:      b.gauge(metricCostCurrent, "Current accrued cost per budget type in USD", "USD"),
		costDistribution: b.histogram(metricCostDistribution, "Per-execution cost distribution in USD", "USD", costBoundaries...),
		budgetAlerts:     b.counter(metricBudgetAlerts, "Total budget alerts emitted", "{alert}"),
		abTests:          b.counter(metricABTests, "Total A/B experiment events", "{event}"),
		abActive:         b.upDownCounter(metricABActive, "Currently running A/B experiments", "{experiment}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return rm, nil
}

// enabled reports whether emission is currently gated on.
func (rm *RoutingMetrics) enabled() bool {
	return rm.flags.Enabled(featureflag.PrometheusMetrics)
}

// RecordDecision implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordDecision(ctx context.Context, adapter routing.AdapterKind, kind routing.TaskKind) {
	if !rm.enabled() {
		return
	}

	rm.decisions.Add(ctx, 1, metric.WithAttributes(
		rm.server,
		attribute.String(attrAdapter, string(adapter)),
		attribute.String(attrTaskType, string(kind)),
	))
}

// RecordExecution implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordExecution(
	ctx context.Context, adapter routing.AdapterKind, status routing.ExecutionStatus, latencySeconds float64,
) {
	if !rm.enabled() {
		return
	}

	rm.executions.Add(ctx, 1, metric.WithAttributes(
		rm.server,
		attribute.String(attrAdapter, string(adapter)),
		attribute.String(attrStatus, string(status)),
	))

	rm.adapterLatency.Record(ctx, latencySeconds, metric.WithAttributes(
		rm.server,
		attribute.String(attrAdapter, string(adapter)),
	))
}

// RecordRoutingDuration implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordRoutingDuration(ctx context.Context, seconds float64) {
	if !rm.enabled() {
		return
	}

	rm.routingDuration.Record(ctx, seconds, metric.WithAttributes(rm.server))
}

// RecordFallback implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordFallback(ctx context.Context, original, fallback routing.AdapterKind) {
	if !rm.enabled() {
		return
	}

	rm.fallbacks.Add(ctx, 1, metric.WithAttributes(
		rm.server,
		attribute.String(attrOriginalAdapter, string(original)),
		attribute.String(attrFallbackAdapter, string(fallback)),
	))
}

// RecordChainLength implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordChainLength(ctx context.Context, length int) {
	if !rm.enabled() {
		return
	}

	rm.chainLength.Record(ctx, float64(length), metric.WithAttributes(rm.server))
}

// RecordCost implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordCost(ctx context.Context, adapter routing.AdapterKind, kind routing.TaskKind, usd float64) {
	if !rm.enabled() {
		return
	}

	rm.costTotal.Add(ctx, usd, metric.WithAttributes(
		rm.server,
		attribute.String(attrAdapter, string(adapter)),
		attribute.String(attrTaskType, string(kind)),
	))

	rm.costDistribution.Record(ctx, usd, metric.WithAttributes(
		rm.server,
		attribute.String(attrAdapter, string(adapter)),
	))
}

// RecordCostCurrent implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordCostCurrent(ctx context.Context, budget routing.BudgetKind, usd float64) {
	if !rm.enabled() {
		return
	}

	rm.costCurrent.Record(ctx, usd, metric.WithAttributes(
		rm.server,
		attribute.String(attrBudgetType, string(budget)),
	))
}

// RecordBudgetAlert implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordBudgetAlert(ctx context.Context, budget routing.BudgetKind, severity routing.Severity) {
	if !rm.enabled() {
		return
	}

	rm.budgetAlerts.Add(ctx, 1, metric.WithAttributes(
		rm.server,
		attribute.String(attrBudgetType, string(budget)),
		attribute.String(attrSeverity, string(severity)),
	))
}

// RecordABEvent implements [metrics.Emitter].
func (rm *RoutingMetrics) RecordABEvent(ctx context.Context, experimentID string, event metrics.ABEvent) {
	if !rm.enabled() {
		return
	}

	rm.abTests.Add(ctx, 1, metric.WithAttributes(
		rm.server,
		attribute.String(attrExperimentID, experimentID),
		attribute.String(attrEventType, string(event)),
	))
}

// AddABActive implements [metrics.Emitter].
func (rm *RoutingMetrics) AddABActive(ctx context.Context, delta int) {
	if !rm.enabled() {
		return
	}

	rm.abActive.Add(ctx, int64(delta), metric.WithAttributes(rm.server))
}
