package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"belfry/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent processing outcomes from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			jrn, err := journal.Open(cfg.JournalPath())
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer jrn.Close()

			entries, err := jrn.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No processing history recorded")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				detail := entry.OutputPath
				if entry.Detail != "" {
					detail = entry.Detail
				}
				rows = append(rows, []string{
					entry.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					entry.Doorbell,
					entry.FileID,
					entry.Status,
					entry.Duration.Round(time.Millisecond).String(),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Processed", "Doorbell", "File ID", "Status", "Duration", "Detail"},
				rows,
			))

			stats, err := jrn.Stats(cmd.Context())
			if err == nil {
				fmt.Fprintf(out, "Totals: %d completed, %d merge failed, %d failed\n",
					stats.Completed, stats.MergeFailed, stats.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	return cmd
}
