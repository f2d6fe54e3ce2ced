package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// statusTimeout bounds the status query.
const statusTimeout = 5 * time.Second

// NewStatusCommand creates the status command. It queries a running
// daemon's /statusz endpoint and renders the routing state.
func NewStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running daemon's routing state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8700", "daemon base URL")

	return cmd
}

func runStatus(cmd *cobra.Command, addr string) error {
	client := &http.Client{Timeout: statusTimeout}

	resp, err := client.Get(addr + "/statusz")
	if err != nil {
		return fmt.Errorf("query daemon status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	var snap StatusSnapshot

	err = json.NewDecoder(resp.Body).Decode(&snap)
	if err != nil {
		return fmt.Errorf("decode daemon status: %w", err)
	}

	out := cmd.OutOrStdout()

	title := color.New(color.FgCyan, color.Bold)
	_, _ = title.Fprintln(out, "omniroute status")

	fmt.Fprintf(out, "tracker: %s, %s active, %s pending writes, strategy %s\n",
		snap.Tracker.Status,
		humanize.Comma(int64(snap.Tracker.ActiveCount)),
		humanize.Comma(int64(snap.Tracker.PendingWrites)),
		snap.Tracker.SamplingStrategy)
	fmt.Fprintf(out, "accrued cost: $%s\n\n", snap.TotalUSD)

	adapters := table.NewWriter()
	adapters.SetOutputMirror(out)
	adapters.AppendHeader(table.Row{"Adapter", "Health", "Success", "Failure", "Rate"})

	for _, stats := range snap.Adapters {
		health := "unknown"
		if report, ok := snap.Health[stats.Adapter]; ok {
			health = string(report.Status)
		}

		adapters.AppendRow(table.Row{
			stats.Adapter,
			health,
			humanize.Comma(stats.SuccessCount),
			humanize.Comma(stats.FailureCount),
			fmt.Sprintf("%.1f%%", stats.SuccessRate()*100),
		})
	}

	adapters.Render()

	if len(snap.Budgets) == 0 {
		return nil
	}

	fmt.Fprintln(out)

	budgets := table.NewWriter()
	budgets.SetOutputMirror(out)
	budgets.AppendHeader(table.Row{"Budget", "Kind", "Spent", "Limit", "Used", "Active"})

	over := color.New(color.FgRed, color.Bold)

	for _, status := range snap.Budgets {
		used := fmt.Sprintf("%.1f%%", status.PctUsed)
		if status.Over {
			used = over.Sprint(used)
		}

		budgets.AppendRow(table.Row{
			status.Budget.Name,
			status.Budget.Kind,
			"$" + status.SpentUSD.StringFixed(4),
			"$" + status.LimitUSD.StringFixed(4),
			used,
			status.Active,
		})
	}

	budgets.Render()

	return nil
}
