// Package config loads and validates the omniroute configuration from
// file, environment, and defaults.
package config

import "errors"

// Config is the top-level configuration struct for omniroute.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Cost      CostConfig      `mapstructure:"cost"`
	SLA       SLAConfig       `mapstructure:"sla"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Budgets   string          `mapstructure:"budgets_file"`
	// Adapters maps adapter names onto their backend base URLs.
	Adapters map[string]string `mapstructure:"adapters"`
}

// SamplingConfig holds execution sampling knobs.
type SamplingConfig struct {
	Strategy string  `mapstructure:"strategy"`
	Rate     float64 `mapstructure:"rate"`
}

// BatchConfig holds batched-write knobs.
type BatchConfig struct {
	Size      int `mapstructure:"size"`
	TimeoutMS int `mapstructure:"timeout_ms"`
}

// AggregateConfig holds the aggregation loop cadence.
type AggregateConfig struct {
	IntervalMS int `mapstructure:"interval_ms"`
}

// ScoringConfig holds statistical routing knobs.
type ScoringConfig struct {
	MinSamples         int     `mapstructure:"min_samples"`
	ConfidenceInterval float64 `mapstructure:"confidence_interval"`
	RecalcIntervalH    int     `mapstructure:"recalc_interval_h"`
	CacheTTLH          int     `mapstructure:"cache_ttl_h"`
}

// CostConfig holds cost model knobs. PerAdapterUSDPerS overrides the
// static rate table per adapter name.
type CostConfig struct {
	PerAdapterUSDPerS map[string]float64 `mapstructure:"per_adapter_usd_per_s"`
	DefaultStrategy   string             `mapstructure:"default_strategy"`
}

// SLAConfig holds service level bounds used in scoring.
type SLAConfig struct {
	MaxLatencyMS   float64 `mapstructure:"max_latency_ms"`
	MinSuccessRate float64 `mapstructure:"min_success_rate"`
}

// AlertsConfig holds alert manager thresholds.
type AlertsConfig struct {
	SuccessRateThreshold  float64 `mapstructure:"success_rate_threshold"`
	FallbackRateThreshold float64 `mapstructure:"fallback_rate_threshold"`
	LatencyP95ThresholdMS float64 `mapstructure:"latency_p95_threshold_ms"`
	CostSpikeMultiplier   float64 `mapstructure:"cost_spike_multiplier"`
	EvaluationIntervalS   int     `mapstructure:"evaluation_interval_s"`
	WebhookURL            string  `mapstructure:"webhook_url"`
}

// FeaturesConfig holds the feature flag states.
type FeaturesConfig struct {
	PrometheusMetrics bool `mapstructure:"prometheus_metrics_enabled"`
	LearningSystem    bool `mapstructure:"learning_system_enabled"`
}

// ServerConfig holds the HTTP surface knobs.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// TelemetryConfig holds OTLP export knobs. An empty endpoint disables
// export; metrics still serve locally via the Prometheus surface.
type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
}

// SinkConfig selects the persistence sink backing batched writes.
type SinkConfig struct {
	// Kind is one of sqlite, file, memory, none.
	Kind string `mapstructure:"kind"`
	// Path is the database file for sqlite or the directory for file.
	Path string `mapstructure:"path"`
}

// Defaults applied when neither file nor environment provides a value.
const (
	DefaultSamplingStrategy     = "full"
	DefaultSamplingRate         = 1.0
	DefaultBatchSize            = 100
	DefaultBatchTimeoutMS       = 5000
	DefaultAggregateIntervalMS  = 60_000
	DefaultScoringMinSamples    = 100
	DefaultConfidenceInterval   = 0.95
	DefaultRecalcIntervalH      = 168
	DefaultCacheTTLH            = 1
	DefaultCostStrategy         = "batch"
	DefaultMaxLatencyMS         = 5000
	DefaultMinSuccessRate       = 0.8
	DefaultSuccessRateThreshold = 0.95
	DefaultFallbackRate         = 0.10
	DefaultLatencyP95MS         = 5000
	DefaultCostSpikeMultiplier  = 2.0
	DefaultEvaluationIntervalS  = 60
	DefaultServerAddr           = ":8700"
	DefaultServiceName          = "omniroute"
	DefaultLogLevel             = "info"
	DefaultSinkKind             = "sqlite"
	DefaultSinkPath             = "omniroute.db"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidSamplingStrategy indicates an unrecognized sampling strategy.
	ErrInvalidSamplingStrategy = errors.New("sampling.strategy must be one of full, high_frequency, low_frequency, adaptive")
	// ErrInvalidSamplingRate indicates a rate outside [0, 1].
	ErrInvalidSamplingRate = errors.New("sampling.rate must be between 0 and 1")
	// ErrInvalidBatchSize indicates a negative batch size.
	ErrInvalidBatchSize = errors.New("batch.size must be non-negative")
	// ErrInvalidBatchTimeout indicates a negative batch timeout.
	ErrInvalidBatchTimeout = errors.New("batch.timeout_ms must be non-negative")
	// ErrInvalidAggregateInterval indicates a negative aggregation interval.
	ErrInvalidAggregateInterval = errors.New("aggregate.interval_ms must be non-negative")
	// ErrInvalidMinSamples indicates a negative scoring sample floor.
	ErrInvalidMinSamples = errors.New("scoring.min_samples must be non-negative")
	// ErrInvalidConfidenceInterval indicates a confidence outside (0, 1).
	ErrInvalidConfidenceInterval = errors.New("scoring.confidence_interval must be between 0 and 1 exclusive")
	// ErrInvalidCostStrategy indicates an unrecognized default strategy.
	ErrInvalidCostStrategy = errors.New("cost.default_strategy must be one of interactive, batch, critical")
	// ErrNegativeCostRate indicates a negative per-adapter cost rate.
	ErrNegativeCostRate = errors.New("cost.per_adapter_usd_per_s entries must be non-negative")
	// ErrInvalidMaxLatency indicates a non-positive SLA latency cap.
	ErrInvalidMaxLatency = errors.New("sla.max_latency_ms must be positive")
	// ErrInvalidMinSuccessRate indicates a rate outside [0, 1].
	ErrInvalidMinSuccessRate = errors.New("sla.min_success_rate must be between 0 and 1")
	// ErrInvalidSuccessThreshold indicates a threshold outside [0, 1].
	ErrInvalidSuccessThreshold = errors.New("alerts.success_rate_threshold must be between 0 and 1")
	// ErrInvalidFallbackThreshold indicates a threshold outside [0, 1].
	ErrInvalidFallbackThreshold = errors.New("alerts.fallback_rate_threshold must be between 0 and 1")
	// ErrInvalidSpikeMultiplier indicates a multiplier below 1.
	ErrInvalidSpikeMultiplier = errors.New("alerts.cost_spike_multiplier must be at least 1")
	// ErrInvalidEvaluationInterval indicates a negative evaluation interval.
	ErrInvalidEvaluationInterval = errors.New("alerts.evaluation_interval_s must be non-negative")
	// ErrInvalidSinkKind indicates an unrecognized sink kind.
	ErrInvalidSinkKind = errors.New("sink.kind must be one of sqlite, file, memory, none")
)

var validSamplingStrategies = map[string]struct{}{
	"full":           {},
	"high_frequency": {},
	"low_frequency":  {},
	"adaptive":       {},
}

var validCostStrategies = map[string]struct{}{
	"interactive": {},
	"batch":       {},
	"critical":    {},
}

var validSinkKinds = map[string]struct{}{
	"sqlite": {},
	"file":   {},
	"memory": {},
	"none":   {},
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if _, ok := validSamplingStrategies[c.Sampling.Strategy]; !ok {
		return ErrInvalidSamplingStrategy
	}

	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return ErrInvalidSamplingRate
	}

	if c.Batch.Size < 0 {
		return ErrInvalidBatchSize
	}

	if c.Batch.TimeoutMS < 0 {
		return ErrInvalidBatchTimeout
	}

	if c.Aggregate.IntervalMS < 0 {
		return ErrInvalidAggregateInterval
	}

	if c.Scoring.MinSamples < 0 {
		return ErrInvalidMinSamples
	}

	if c.Scoring.ConfidenceInterval <= 0 || c.Scoring.ConfidenceInterval >= 1 {
		return ErrInvalidConfidenceInterval
	}

	if _, ok := validCostStrategies[c.Cost.DefaultStrategy]; !ok {
		return ErrInvalidCostStrategy
	}

	for _, rate := range c.Cost.PerAdapterUSDPerS {
		if rate < 0 {
			return ErrNegativeCostRate
		}
	}

	if c.SLA.MaxLatencyMS <= 0 {
		return ErrInvalidMaxLatency
	}

	if c.SLA.MinSuccessRate < 0 || c.SLA.MinSuccessRate > 1 {
		return ErrInvalidMinSuccessRate
	}

	if c.Alerts.SuccessRateThreshold < 0 || c.Alerts.SuccessRateThreshold > 1 {
		return ErrInvalidSuccessThreshold
	}

	if c.Alerts.FallbackRateThreshold < 0 || c.Alerts.FallbackRateThreshold > 1 {
		return ErrInvalidFallbackThreshold
	}

	if c.Alerts.CostSpikeMultiplier < 1 {
		return ErrInvalidSpikeMultiplier
	}

	if c.Alerts.EvaluationIntervalS < 0 {
		return ErrInvalidEvaluationInterval
	}

	if _, ok := validSinkKinds[c.Sink.Kind]; !ok {
		return ErrInvalidSinkKind
	}

	return nil
}
