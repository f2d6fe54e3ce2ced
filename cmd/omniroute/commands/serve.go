// Package commands implements CLI command handlers for omniroute.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/omniroute/omniroute/internal/config"
	"github.com/omniroute/omniroute/internal/observability"
	"github.com/omniroute/omniroute/pkg/alerting"
	"github.com/omniroute/omniroute/pkg/costopt"
	"github.com/omniroute/omniroute/pkg/featureflag"
	"github.com/omniroute/omniroute/pkg/metrics"
	"github.com/omniroute/omniroute/pkg/router"
	"github.com/omniroute/omniroute/pkg/routing"
	"github.com/omniroute/omniroute/pkg/sink"
	"github.com/omniroute/omniroute/pkg/stats"
	"github.com/omniroute/omniroute/pkg/tracker"
)

// shutdownGrace bounds the drain of loops and in-flight requests.
const shutdownGrace = 15 * time.Second

// ErrUnknownAdapterName indicates a configured adapter name outside the
// supported set.
var ErrUnknownAdapterName = errors.New("unknown adapter name")

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

// countingEmitter wraps an emitter to maintain per-window dispatch and
// fallback counters for the alert manager.
type countingEmitter struct {
	metrics.Emitter

	decisions atomic.Int64
	fallbacks atomic.Int64
}

func (e *countingEmitter) RecordDecision(ctx context.Context, adapter routing.AdapterKind, kind routing.TaskKind) {
	e.decisions.Add(1)
	e.Emitter.RecordDecision(ctx, adapter, kind)
}

func (e *countingEmitter) RecordFallback(ctx context.Context, original, fallback routing.AdapterKind) {
	e.fallbacks.Add(1)
	e.Emitter.RecordFallback(ctx, original, fallback)
}

// window resets the counters and returns the previous values.
func (e *countingEmitter) window() (fallbacks, total int64) {
	return e.fallbacks.Swap(0), e.decisions.Swap(0)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceName = cfg.Telemetry.ServiceName
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.LogJSON = cfg.Telemetry.LogJSON
	obsCfg.LogLevel = parseLogLevel(cfg.Telemetry.LogLevel)

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	logger := providers.Logger

	flags := featureflag.NewStaticSource(map[string]bool{
		featureflag.PrometheusMetrics: cfg.Features.PrometheusMetrics,
		featureflag.LearningSystem:    cfg.Features.LearningSystem,
	}, true)

	promSurface, err := observability.NewPrometheusSurface()
	if err != nil {
		return fmt.Errorf("init metrics surface: %w", err)
	}

	routingMetrics, err := observability.NewRoutingMetrics(promSurface.Meter, cfg.Telemetry.ServiceName, flags)
	if err != nil {
		return fmt.Errorf("build routing metrics: %w", err)
	}

	emitter := &countingEmitter{Emitter: routingMetrics}

	snk, err := buildSink(cfg.Sink)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}

	trk, err := tracker.New(tracker.Config{
		Strategy:          tracker.Strategy(cfg.Sampling.Strategy),
		SamplingRate:      cfg.Sampling.Rate,
		BatchSize:         cfg.Batch.Size,
		BatchTimeout:      time.Duration(cfg.Batch.TimeoutMS) * time.Millisecond,
		AggregateInterval: time.Duration(cfg.Aggregate.IntervalMS) * time.Millisecond,
	}, snk, flags, logger)
	if err != nil {
		return fmt.Errorf("build tracker: %w", err)
	}

	statsCfg := stats.Config{
		MinSamples: cfg.Scoring.MinSamples,
		CacheTTL:   time.Duration(cfg.Scoring.CacheTTLH) * time.Hour,
	}
	if cfg.Scoring.MinSamples == 0 {
		statsCfg = statsCfg.WithoutMinimumSamples()
	}

	statsRouter, err := stats.New(statsCfg, trk, snk, emitter, logger)
	if err != nil {
		return fmt.Errorf("build statistical router: %w", err)
	}

	// The alert manager is wired after the optimizer; route budget
	// alerts through this indirection.
	var alertMgr *alerting.Manager

	alertFn := func(alert routing.Alert) {
		if alertMgr != nil {
			alertMgr.Send(context.Background(), alert)
		}
	}

	costRates := make(map[routing.AdapterKind]decimal.Decimal, len(cfg.Cost.PerAdapterUSDPerS))
	for name, rate := range cfg.Cost.PerAdapterUSDPerS {
		costRates[routing.AdapterKind(name)] = decimal.NewFromFloat(rate)
	}

	optimizer, err := costopt.New(costopt.Config{
		CostRates:       costRates,
		DefaultStrategy: costopt.Strategy(cfg.Cost.DefaultStrategy),
		MaxLatencyMS:    cfg.SLA.MaxLatencyMS,
	}, trk, emitter, alertFn, logger)
	if err != nil {
		return fmt.Errorf("build cost optimizer: %w", err)
	}

	budgets, err := config.LoadBudgets(cfg.Budgets)
	if err != nil {
		return err
	}

	for _, budget := range budgets {
		if err := optimizer.AddBudget(budget); err != nil {
			return fmt.Errorf("register budget %q: %w", budget.Name, err)
		}
	}

	alertMgr = alerting.New(alerting.Config{
		EvaluationInterval:    time.Duration(cfg.Alerts.EvaluationIntervalS) * time.Second,
		SuccessRateThreshold:  cfg.Alerts.SuccessRateThreshold,
		FallbackRateThreshold: cfg.Alerts.FallbackRateThreshold,
		CostSpikeMultiplier:   cfg.Alerts.CostSpikeMultiplier,
	}, trk, optimizer, emitter.window, logger)

	alertMgr.AddSink(alerting.NewLogSink(logger))

	if cfg.Alerts.WebhookURL != "" {
		alertMgr.AddSink(alerting.NewWebhookSink(cfg.Alerts.WebhookURL, nil, logger))
	}

	taskRouter := router.New(trk, statsRouter, optimizer, emitter, logger)

	for name, baseURL := range cfg.Adapters {
		kind := routing.AdapterKind(name)
		if !kind.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownAdapterName, name)
		}

		if err := taskRouter.Register(ctx, kind, newHTTPAdapter(baseURL, nil)); err != nil {
			return err
		}
	}

	for _, starter := range []interface {
		Start(context.Context) error
	}{trk, statsRouter, optimizer, alertMgr} {
		if err := starter.Start(ctx); err != nil {
			return fmt.Errorf("start background loop: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           buildMux(promSurface.Handler, taskRouter, trk, optimizer, alertMgr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("daemon listening", slog.String("addr", cfg.Server.Addr))

		serveErr := srv.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err = <-errCh:
		return err
	case <-signalCtx.Done():
	}

	logger.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Warn("http drain failed", slog.Any("error", err))
	}

	for _, stopper := range []interface {
		Stop(context.Context) error
	}{alertMgr, optimizer, statsRouter, trk} {
		if err := stopper.Stop(drainCtx); err != nil {
			logger.Warn("loop stop failed", slog.Any("error", err))
		}
	}

	if err := taskRouter.Shutdown(drainCtx); err != nil {
		logger.Warn("adapter shutdown failed", slog.Any("error", err))
	}

	if err := snk.Close(); err != nil {
		logger.Warn("sink close failed", slog.Any("error", err))
	}

	if promSurface.Shutdown != nil {
		_ = promSurface.Shutdown()
	}

	return providers.Shutdown(drainCtx)
}

// buildSink selects the persistence sink from configuration.
func buildSink(cfg config.SinkConfig) (sink.Sink, error) {
	switch cfg.Kind {
	case "sqlite":
		return sink.NewSQLite(cfg.Path)
	case "file":
		return sink.NewFile(cfg.Path, nil)
	case "memory":
		return sink.NewMemory(), nil
	default:
		return sink.Noop{}, nil
	}
}

// StatusSnapshot is the JSON document served at /statusz and rendered by
// the status command.
type StatusSnapshot struct {
	Tracker  tracker.Health                              `json:"tracker"`
	Adapters []routing.AdapterStats                      `json:"adapters"`
	Health   map[routing.AdapterKind]router.HealthReport `json:"adapter_health"`
	Budgets  []routing.BudgetStatus                      `json:"budgets"`
	TotalUSD string                                      `json:"total_cost_usd"`
}

// ErrNotRunning indicates a readiness probe found a stopped loop.
var ErrNotRunning = errors.New("background loop not running")

func buildMux(metricsHandler http.Handler, taskRouter *router.Router, trk *tracker.Tracker, optimizer *costopt.Optimizer, alertMgr *alerting.Manager) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/healthz", observability.HealthHandler())
	mux.Handle("/readyz", observability.ReadyHandler(
		func(context.Context) error {
			if !trk.Running() {
				return fmt.Errorf("tracker: %w", ErrNotRunning)
			}

			return nil
		},
		func(context.Context) error {
			if !alertMgr.Running() {
				return fmt.Errorf("alert manager: %w", ErrNotRunning)
			}

			return nil
		},
	))

	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		snap := StatusSnapshot{
			Tracker:  trk.Health(),
			Adapters: trk.Snapshot().Adapters,
			Health:   taskRouter.Health(r.Context()),
			TotalUSD: optimizer.TotalAccrued().StringFixed(6),
		}

		for _, budget := range optimizer.Budgets() {
			snap.Budgets = append(snap.Budgets, optimizer.BudgetStatus(budget))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	mux.HandleFunc("/dispatch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

			return
		}

		var req router.Request

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		result := taskRouter.Dispatch(r.Context(), req)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	})

	return mux
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
