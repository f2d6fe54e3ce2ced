package costopt

import (
	"context"
	"time"

	"github.com/omniroute/omniroute/pkg/routing"
)

// Start launches the budget monitor loop. Calling Start on a running
// optimizer is a no-op.
func (o *Optimizer) Start(context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})

	go o.run(loopCtx)

	return nil
}

// Stop cancels the budget monitor and waits for it to exit.
func (o *Optimizer) Stop(ctx context.Context) error {
	o.lifecycleMu.Lock()
	cancel := o.cancel
	done := o.done
	o.cancel = nil
	o.done = nil
	o.lifecycleMu.Unlock()

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

func (o *Optimizer) run(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.monitorBudgets(ctx)
		}
	}
}

// monitorBudgets evaluates every active budget once: critical at or past
// the limit, warning at or past the alert threshold. It also refreshes
// the current-spend gauge per budget kind.
func (o *Optimizer) monitorBudgets(ctx context.Context) {
	now := time.Now().UTC()

	for _, budget := range o.Budgets() {
		if !budget.Active(now) {
			continue
		}

		status := o.BudgetStatus(budget)

		spent, _ := status.SpentUSD.Float64()
		o.emitter.RecordCostCurrent(ctx, budget.Kind, spent)

		switch {
		case status.PctUsed >= 100:
			o.raiseBudgetAlert(status, routing.SeverityCritical)
		case status.PctUsed >= budget.Threshold()*100:
			o.raiseBudgetAlert(status, routing.SeverityWarning)
		}
	}
}
