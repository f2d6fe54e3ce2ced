package routing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Validation errors for execution records.
var (
	// ErrEndBeforeStart indicates end_ts precedes start_ts.
	ErrEndBeforeStart = errors.New("execution end precedes start")
	// ErrNegativeLatency indicates a negative latency value.
	ErrNegativeLatency = errors.New("latency must be non-negative")
	// ErrErrorOnSuccess indicates error fields set on a successful record.
	ErrErrorOnSuccess = errors.New("successful execution must not carry error fields")
	// ErrNegativeCost indicates a negative cost value.
	ErrNegativeCost = errors.New("cost must be non-negative")
)

// ExecutionRecord is the audit record for a single adapter attempt.
// ExecutionID doubles as the correlation ID to external systems.
type ExecutionRecord struct {
	ExecutionID  string          `json:"execution_id"`
	Adapter      AdapterKind     `json:"adapter"`
	TaskKind     TaskKind        `json:"task_kind"`
	StartTS      time.Time       `json:"start_ts"`
	EndTS        time.Time       `json:"end_ts"`
	Status       ExecutionStatus `json:"status"`
	LatencyMS    float64         `json:"latency_ms"`
	ErrorType    string          `json:"error_type,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`

	// CostUSD is nil when cost is untracked for this attempt.
	CostUSD *decimal.Decimal `json:"cost_usd,omitempty"`
}

// Validate checks the record invariants from the data model.
func (r *ExecutionRecord) Validate() error {
	if r.EndTS.Before(r.StartTS) {
		return ErrEndBeforeStart
	}

	if r.LatencyMS < 0 {
		return ErrNegativeLatency
	}

	if r.Status == StatusSuccess && (r.ErrorType != "" || r.ErrorMessage != "") {
		return ErrErrorOnSuccess
	}

	if r.CostUSD != nil && r.CostUSD.IsNegative() {
		return ErrNegativeCost
	}

	return nil
}

// ActiveExecution is the transient in-flight entry held between
// RecordStart and RecordEnd. Entries that never end age out via the
// aggregation loop TTL.
type ActiveExecution struct {
	ExecutionID string
	Adapter     AdapterKind
	TaskKind    TaskKind
	StartTS     time.Time
	Repos       []string
}

// AdapterStats is the rolling per-adapter outcome aggregate.
type AdapterStats struct {
	Adapter      AdapterKind `json:"adapter"`
	SuccessCount int64       `json:"success_count"`
	FailureCount int64       `json:"failure_count"`
}

// Total returns the number of completed executions.
func (s AdapterStats) Total() int64 {
	return s.SuccessCount + s.FailureCount
}

// SuccessRate returns successes over total, or 0 when no data exists.
// Callers gate on Total() >= min_samples before trusting the value.
func (s AdapterStats) SuccessRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}

	return float64(s.SuccessCount) / float64(total)
}

// Wilson returns the 95% Wilson score interval for the success rate.
func (s AdapterStats) Wilson() Interval {
	return WilsonInterval(s.SuccessRate(), int(s.Total()))
}
