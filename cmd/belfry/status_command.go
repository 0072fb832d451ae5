package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"belfry/internal/daemon"
	"belfry/internal/deps"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and external tool availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			var rows [][]string
			for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
				state := "available"
				if !status.Available {
					state = status.Detail
					if status.Optional {
						state += " (optional)"
					}
				}
				rows = append(rows, []string{status.Name, status.Command, state})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Tool", "Command", "State"},
				rows,
			))

			bind := strings.TrimSpace(cfg.API.Bind)
			if bind == "" {
				fmt.Fprintln(out, "Daemon API disabled (set api.bind to enable status queries)")
				return nil
			}

			status, err := fetchDaemonStatus(bind)
			if err != nil {
				fmt.Fprintf(out, "Daemon not reachable at %s: %v\n", bind, err)
				return nil
			}

			daemonRows := [][]string{
				{"Running", yesNo(status.Running)},
				{"Cycle active", yesNo(status.CycleActive)},
				{"Started", status.StartedAt.Local().Format("2006-01-02 15:04:05")},
				{"Poll interval", status.PollInterval},
				{"Doorbells", strings.Join(status.Doorbells, ", ")},
				{"Ledger events", strconv.Itoa(status.LedgerEvents)},
				{"Completed", strconv.Itoa(status.Totals.Completed)},
				{"Merge failed", strconv.Itoa(status.Totals.MergeFailed)},
				{"Failed", strconv.Itoa(status.Totals.Failed)},
			}
			if status.LastCycle != nil {
				daemonRows = append(daemonRows,
					[]string{"Last cycle", status.LastCycle.FinishedAt.Local().Format("2006-01-02 15:04:05")},
					[]string{"Last cycle archived", strconv.Itoa(status.LastCycle.EventsProcessed)},
				)
				if status.LastCycle.Error != "" {
					daemonRows = append(daemonRows, []string{"Last cycle error", status.LastCycle.Error})
				}
			}
			fmt.Fprintln(out, renderSummaryTable("Daemon", daemonRows))
			return nil
		},
	}
}

func fetchDaemonStatus(bind string) (*daemon.Status, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + bind + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}
