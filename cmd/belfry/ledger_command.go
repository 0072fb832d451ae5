package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"belfry/internal/ledger"
	"belfry/internal/logging"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	var doorFilter string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show processed events recorded in the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			led := ledger.Open(cfg.LedgerPath(), defaultDoor(cfg), logging.NewNop())
			out := cmd.OutOrStdout()

			doors := led.Doors()
			if doorFilter != "" {
				doors = []string{doorFilter}
			}

			var rows [][]string
			for _, door := range doors {
				for _, event := range led.Events(door) {
					rows = append(rows, []string{
						door,
						event.FileID,
						event.Description(),
					})
				}
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No processed events recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Doorbell", "File ID", "Event"},
				rows,
			))
			fmt.Fprintf(out, "%s total\n", strconv.Itoa(led.TotalEvents()))
			return nil
		},
	}

	cmd.Flags().StringVar(&doorFilter, "doorbell", "", "Only show events for this doorbell")
	return cmd
}
