package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/omniroute/omniroute/pkg/routing"
)

// budgetsFile is the on-disk shape of the budgets document. Limits are
// parsed as decimal strings so fractional cents survive the round trip.
type budgetsFile struct {
	Budgets []budgetEntry `yaml:"budgets"`
}

type budgetEntry struct {
	Name           string    `yaml:"name"`
	Kind           string    `yaml:"kind"`
	LimitUSD       string    `yaml:"limit_usd"`
	Adapter        string    `yaml:"adapter"`
	TaskKind       string    `yaml:"task_kind"`
	PeriodStart    time.Time `yaml:"period_start"`
	PeriodEnd      time.Time `yaml:"period_end"`
	PeriodDays     int       `yaml:"period_days"`
	AlertThreshold float64   `yaml:"alert_threshold"`
}

// LoadBudgets reads and validates a budgets YAML file. An empty path
// returns no budgets; a missing file is an error, unlike the main
// config, because budgets are only read when explicitly configured.
func LoadBudgets(path string) ([]routing.Budget, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read budgets file: %w", err)
	}

	var doc budgetsFile

	err = yaml.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fmt.Errorf("parse budgets file: %w", err)
	}

	budgets := make([]routing.Budget, 0, len(doc.Budgets))

	for _, entry := range doc.Budgets {
		limit, err := decimal.NewFromString(entry.LimitUSD)
		if err != nil {
			return nil, fmt.Errorf("parse budget %q limit: %w", entry.Name, err)
		}

		budget := routing.Budget{
			Name:           entry.Name,
			Kind:           routing.BudgetKind(entry.Kind),
			LimitUSD:       limit,
			Adapter:        routing.AdapterKind(entry.Adapter),
			TaskKind:       routing.TaskKind(entry.TaskKind),
			PeriodStart:    entry.PeriodStart,
			PeriodEnd:      entry.PeriodEnd,
			PeriodDays:     entry.PeriodDays,
			AlertThreshold: entry.AlertThreshold,
		}

		err = budget.Validate()
		if err != nil {
			return nil, fmt.Errorf("validate budget %q: %w", entry.Name, err)
		}

		budgets = append(budgets, budget)
	}

	return budgets, nil
}
