package routing

import "time"

// AlertKind identifies a health evaluation finding.
type AlertKind string

// Alert kinds raised by the alert manager and budget monitor.
const (
	AlertAdapterDegradation AlertKind = "adapter_degradation"
	AlertCostSpike          AlertKind = "cost_spike"
	AlertExcessiveFallbacks AlertKind = "excessive_fallbacks"
	AlertHighLatency        AlertKind = "high_latency"
	AlertBudgetExceeded     AlertKind = "budget_exceeded"
)

// Severity grades an alert.
type Severity string

// Alert severities, ordered info < warning < critical.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single health finding fanned out to alert sinks. Metadata
// holds free-form scalar context (change percentages, budget names).
type Alert struct {
	Kind           AlertKind      `json:"alert_type"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Adapter        AdapterKind    `json:"adapter,omitempty"`
	CurrentValue   float64        `json:"current_value,omitempty"`
	ThresholdValue float64        `json:"threshold_value,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
