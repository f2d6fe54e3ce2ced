package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omniroute/omniroute/pkg/costopt"
	"github.com/omniroute/omniroute/pkg/metrics"
	"github.com/omniroute/omniroute/pkg/routing"
	"github.com/omniroute/omniroute/pkg/tracker"
)

// Mode selects how the candidate adapter chain is built.
type Mode string

// Routing modes.
const (
	// ModeStatistical ranks adapters by learned preference order.
	ModeStatistical Mode = "statistical"
	// ModeCostOptimized puts the cost optimizer's pick first.
	ModeCostOptimized Mode = "cost_optimized"
	// ModeAdaptive is statistical routing under A/B experiments.
	ModeAdaptive Mode = "adaptive"
)

// Retry bounds for a single adapter.
const (
	maxAttempts      = 3
	retryBackoffBase = time.Second
	retryBackoffMax  = 30 * time.Second
)

// Dispatch errors surfaced in failure results.
var (
	// ErrNoAdapter indicates an empty candidate chain.
	ErrNoAdapter = errors.New("no adapter available")
	// ErrUnknownAdapter indicates a preference for an unregistered adapter.
	ErrUnknownAdapter = errors.New("adapter not registered")
)

// Recorder is the execution-tracking surface the router drives.
type Recorder interface {
	RecordStart(adapter routing.AdapterKind, kind routing.TaskKind, repos []string) string
	RecordEnd(id string, outcome tracker.Outcome)
}

// Preferencer supplies learned preference orders and A/B assignment.
type Preferencer interface {
	PreferenceOrder(kind routing.TaskKind) routing.PreferenceOrder
	SelectVariant(kind routing.TaskKind, executionID string) (routing.PreferenceOrder, string, bool)
	RecordOutcome(experimentID string, variant routing.Variant, success bool, latencyMS float64)
}

// CostSelector supplies cost-aware selection and cost accrual.
type CostSelector interface {
	OptimalAdapter(kind routing.TaskKind, strategy costopt.Strategy) costopt.Choice
	TrackExecutionCost(ctx context.Context, adapter routing.AdapterKind, kind routing.TaskKind, executionID string, latencyMS float64) decimal.Decimal
}

// Request is one dispatch.
type Request struct {
	Task  Task
	Repos []string
	// Mode defaults to statistical.
	Mode Mode
	// Strategy overrides the cost profile under cost-optimized mode.
	Strategy costopt.Strategy
	// PreferenceOrder, when set, is used verbatim.
	PreferenceOrder []routing.AdapterKind
}

// Result is what every dispatch returns. No error escapes Dispatch; all
// failure detail is packaged here.
type Result struct {
	Success       bool                  `json:"success"`
	Adapter       routing.AdapterKind   `json:"adapter,omitempty"`
	ExecutionID   string                `json:"execution_id,omitempty"`
	Output        map[string]any        `json:"output,omitempty"`
	FallbackChain []routing.AdapterKind `json:"fallback_chain"`
	TotalAttempts int                   `json:"total_attempts"`
	Error         string                `json:"error,omitempty"`
	RecoveryHint  string                `json:"recovery_hint,omitempty"`
}

// Router composes the tracker, statistical router, and cost optimizer
// behind one Dispatch call. All methods are safe for concurrent use.
type Router struct {
	logger   *slog.Logger
	emitter  metrics.Emitter
	recorder Recorder
	prefs    Preferencer
	costs    CostSelector

	mu       sync.RWMutex
	adapters map[routing.AdapterKind]Adapter

	// backoff sleeps before a retry attempt; stubbed in tests.
	backoff func(ctx context.Context, attempt int) bool
}

// New creates a task router. The preferencer and cost selector may be
// nil; the router degrades to static-order dispatch.
func New(recorder Recorder, prefs Preferencer, costs CostSelector, emitter metrics.Emitter, logger *slog.Logger) *Router {
	if emitter == nil {
		emitter = metrics.Nop{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		logger:   logger.With(slog.String("component", "router")),
		emitter:  emitter,
		recorder: recorder,
		prefs:    prefs,
		costs:    costs,
		adapters: make(map[routing.AdapterKind]Adapter),
		backoff:  sleepWithJitter,
	}
}

// Register binds an adapter implementation, running its Initialize hook
// when present. Re-registering replaces the previous binding.
func (r *Router) Register(ctx context.Context, kind routing.AdapterKind, adapter Adapter) error {
	if init, ok := adapter.(Initializer); ok {
		err := init.Initialize(ctx)
		if err != nil {
			return fmt.Errorf("initialize adapter %s: %w", kind, err)
		}
	}

	r.mu.Lock()
	r.adapters[kind] = adapter
	r.mu.Unlock()

	return nil
}

// Shutdown runs every registered adapter's Shutdown hook. Errors are
// joined, not short-circuited.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	adapters := make(map[routing.AdapterKind]Adapter, len(r.adapters))
	for kind, a := range r.adapters {
		adapters[kind] = a
	}
	r.mu.RUnlock()

	var errs []error

	for kind, adapter := range adapters {
		if closer, ok := adapter.(Shutdowner); ok {
			if err := closer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown adapter %s: %w", kind, err))
			}
		}
	}

	return errors.Join(errs...)
}

// adapterFor returns the registered implementation for a kind.
func (r *Router) adapterFor(kind routing.AdapterKind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[kind]

	return adapter, ok
}

// registeredOnly filters a candidate order down to registered adapters.
func (r *Router) registeredOnly(order []routing.AdapterKind) []routing.AdapterKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]routing.AdapterKind, 0, len(order))

	for _, kind := range order {
		if _, ok := r.adapters[kind]; ok {
			out = append(out, kind)
		}
	}

	return out
}

// Health reports every registered adapter's health.
func (r *Router) Health(ctx context.Context) map[routing.AdapterKind]HealthReport {
	r.mu.RLock()
	adapters := make(map[routing.AdapterKind]Adapter, len(r.adapters))
	for kind, a := range r.adapters {
		adapters[kind] = a
	}
	r.mu.RUnlock()

	out := make(map[routing.AdapterKind]HealthReport, len(adapters))

	for kind, adapter := range adapters {
		out[kind] = adapter.Health(ctx)
	}

	return out
}

// chainFor builds the candidate order for a request. The returned
// experiment ID and variant are non-zero when an A/B assignment applied.
func (r *Router) chainFor(req Request, dispatchID string) ([]routing.AdapterKind, string, routing.Variant) {
	if len(req.PreferenceOrder) > 0 {
		return r.registeredOnly(req.PreferenceOrder), "", routing.VariantNone
	}

	if req.Mode == ModeCostOptimized && r.costs != nil {
		choice := r.costs.OptimalAdapter(req.Task.Kind, req.Strategy)
		if choice.OK {
			chain := []routing.AdapterKind{choice.Adapter}

			if r.prefs != nil {
				for _, kind := range r.prefs.PreferenceOrder(req.Task.Kind).Adapters {
					if kind != choice.Adapter {
						chain = append(chain, kind)
					}
				}
			}

			return r.registeredOnly(chain), "", routing.VariantNone
		}
	}

	if r.prefs != nil {
		if order, expID, ok := r.prefs.SelectVariant(req.Task.Kind, dispatchID); ok {
			return r.registeredOnly(order.Adapters), expID, order.Variant
		}

		order := r.prefs.PreferenceOrder(req.Task.Kind)
		if len(order.Adapters) > 0 {
			return r.registeredOnly(order.Adapters), "", routing.VariantNone
		}
	}

	return r.registeredOnly(routing.AllAdapters()), "", routing.VariantNone
}

// Dispatch routes one task through the adapter chain with retry and
// fallback. It never returns an error; all failure detail is in the
// Result.
func (r *Router) Dispatch(ctx context.Context, req Request) Result {
	chain, experimentID, variant := r.chainFor(req, uuid.NewString())
	if len(chain) == 0 {
		return Result{Success: false, Error: ErrNoAdapter.Error(), RecoveryHint: recoveryHints[classInternal]}
	}

	started := time.Now()
	defer func() {
		r.emitter.RecordRoutingDuration(ctx, time.Since(started).Seconds())
	}()

	r.emitter.RecordDecision(ctx, chain[0], req.Task.Kind)

	result := r.runChain(ctx, req, chain)

	r.emitter.RecordChainLength(ctx, len(result.FallbackChain))

	if experimentID != "" && r.prefs != nil {
		r.prefs.RecordOutcome(experimentID, variant, result.Success, time.Since(started).Seconds()*1000)
	}

	return result
}

// runChain walks the candidate adapters, retrying each up to maxAttempts
// before falling back to the next.
func (r *Router) runChain(ctx context.Context, req Request, chain []routing.AdapterKind) Result {
	result := Result{FallbackChain: make([]routing.AdapterKind, 0, len(chain))}

	var lastClass errorClass

	var lastErr error

	for hop, kind := range chain {
		adapter, ok := r.adapterFor(kind)
		if !ok {
			// registeredOnly filtered already; a vanished adapter means
			// concurrent deregistration.
			continue
		}

		result.FallbackChain = append(result.FallbackChain, kind)

		outcome := r.runAdapter(ctx, req, kind, adapter, &result)
		if outcome.success {
			result.Success = true
			result.Adapter = kind
			result.ExecutionID = outcome.executionID
			result.Output = outcome.output

			return result
		}

		lastClass = outcome.class
		lastErr = outcome.err

		if outcome.class == classCancelled {
			break
		}

		if hop < len(chain)-1 {
			r.emitter.RecordFallback(ctx, kind, chain[hop+1])
			r.logger.Warn("falling back",
				slog.String("from", string(kind)),
				slog.String("to", string(chain[hop+1])),
				slog.Any("error", outcome.err))
		}
	}

	if lastErr != nil {
		result.Error = lastErr.Error()
	} else {
		result.Error = "all adapters failed"
	}

	if lastClass == "" {
		lastClass = classInternal
	}

	result.RecoveryHint = recoveryHints[lastClass]

	return result
}

// attemptOutcome is the terminal state of one adapter's retry loop.
type attemptOutcome struct {
	success     bool
	executionID string
	output      map[string]any
	class       errorClass
	err         error
}

// runAdapter drives the retry loop for one adapter. Every attempt gets
// its own execution record and execution metric; fatal errors and caller
// cancellation cut the loop short.
func (r *Router) runAdapter(ctx context.Context, req Request, kind routing.AdapterKind, adapter Adapter, result *Result) attemptOutcome {
	var outcome attemptOutcome

	for attempt := range maxAttempts {
		if attempt > 0 {
			if !r.backoff(ctx, attempt) {
				outcome.class = classCancelled
				outcome.err = ctx.Err()

				return outcome
			}
		}

		result.TotalAttempts++

		execID := r.recorder.RecordStart(kind, req.Task.Kind, req.Repos)
		attemptStart := time.Now()

		execCtx, cancel := context.WithTimeout(ctx, executeTimeout(req.Task.Kind))
		execResult, err := adapter.Execute(execCtx, req.Task, req.Repos)
		cancel()

		latencyMS := float64(time.Since(attemptStart)) / float64(time.Millisecond)

		if err == nil {
			r.recorder.RecordEnd(execID, tracker.Outcome{
				Success:   true,
				Status:    routing.StatusSuccess,
				LatencyMS: &latencyMS,
			})
			r.emitter.RecordExecution(ctx, kind, routing.StatusSuccess, latencyMS/1000)

			if r.costs != nil {
				cost := r.costs.TrackExecutionCost(ctx, kind, req.Task.Kind, execID, latencyMS)
				r.logger.Debug("execution cost",
					slog.String("execution_id", execID),
					slog.String("cost_usd", cost.String()))
			}

			outcome.success = true
			outcome.executionID = execID
			outcome.output = execResult.Output

			return outcome
		}

		class := classify(err, ctx)
		status := statusFor(class)

		r.recorder.RecordEnd(execID, tracker.Outcome{
			Success:      false,
			Status:       status,
			LatencyMS:    &latencyMS,
			ErrorType:    string(class),
			ErrorMessage: err.Error(),
		})
		r.emitter.RecordExecution(ctx, kind, status, latencyMS/1000)

		outcome.class = class
		outcome.err = err

		if class == classCancelled || class == classFatal {
			return outcome
		}
	}

	return outcome
}

// sleepWithJitter blocks for a full-jitter exponential backoff before
// the given retry attempt. It returns false when the context is
// cancelled during the sleep.
func sleepWithJitter(ctx context.Context, attempt int) bool {
	backoff := retryBackoffBase << (attempt - 1)
	if backoff > retryBackoffMax {
		backoff = retryBackoffMax
	}

	delay := time.Duration(rand.Int64N(int64(backoff) + 1))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
