package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/omniroute/omniroute/pkg/routing"
)

// errorClass buckets an execution error for retry and fallback decisions.
type errorClass string

const (
	// classTransient retries within the same adapter, then falls back.
	classTransient errorClass = "transient"
	// classFatal skips remaining retries and falls back immediately.
	classFatal errorClass = "fatal"
	// classTimeout is reported as timeout but behaves like transient.
	classTimeout errorClass = "timeout"
	// classCancelled aborts the dispatch with no retry or fallback.
	classCancelled errorClass = "cancelled"
	// classInternal fails the dispatch closed.
	classInternal errorClass = "internal"
)

// StatusError carries an HTTP status from an adapter backend. 5xx, 408
// and 429 are transient; other 4xx are fatal.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("adapter returned status %d", e.StatusCode)
	}

	return fmt.Sprintf("adapter returned status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status warrants a retry.
func (e *StatusError) Transient() bool {
	if e.StatusCode >= http.StatusInternalServerError {
		return true
	}

	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// classify buckets an execution error. The dispatch context separates a
// caller cancellation from a per-adapter soft timeout.
func classify(err error, callerCtx context.Context) errorClass {
	if callerCtx.Err() != nil {
		return classCancelled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return classTimeout
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Transient() {
			return classTransient
		}

		return classFatal
	}

	return classTransient
}

// statusFor maps an error class onto the execution status recorded for
// the attempt.
func statusFor(class errorClass) routing.ExecutionStatus {
	switch class {
	case classTimeout:
		return routing.StatusTimeout
	case classCancelled:
		return routing.StatusCancelled
	default:
		return routing.StatusFailure
	}
}

// recoveryHints maps error classes onto operator-facing remediation
// text carried in failure results.
var recoveryHints = map[errorClass]string{
	classTransient: "the backend failed transiently; retry the task or check adapter health",
	classFatal:     "the request was rejected; check the task payload and adapter configuration",
	classTimeout:   "the adapter exceeded its time budget; reduce task scope or raise the timeout",
	classCancelled: "the dispatch was cancelled by the caller",
	classInternal:  "an internal error occurred; check the router logs",
}

// Soft execution timeouts per task kind. These are ceilings on a single
// adapter attempt, not on the whole dispatch.
const (
	defaultExecuteTimeout = 300 * time.Second
	aiExecuteTimeout      = 600 * time.Second
)

// Centralized operation timeout table. Callers that wrap adapter I/O in
// finer-grained operations pull their budgets from here.
var operationTimeouts = map[string]time.Duration{
	"database":    30 * time.Second,
	"transaction": 60 * time.Second,
	"api_call":    30 * time.Second,
	"ai_task":     aiExecuteTimeout,
	"nlp_parse":   30 * time.Second,
}

// OperationTimeout returns the budget for a named operation class, or
// the default execute timeout for unknown names.
func OperationTimeout(name string) time.Duration {
	if d, ok := operationTimeouts[name]; ok {
		return d
	}

	return defaultExecuteTimeout
}

// executeTimeout returns the soft per-attempt timeout for a task kind.
func executeTimeout(kind routing.TaskKind) time.Duration {
	if kind == routing.TaskAI {
		return aiExecuteTimeout
	}

	return defaultExecuteTimeout
}
