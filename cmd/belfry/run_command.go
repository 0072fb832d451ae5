package main

import (
	"fmt"
	"strconv"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"belfry/internal/assemble"
	"belfry/internal/config"
	"belfry/internal/journal"
	"belfry/internal/ledger"
	"belfry/internal/notifications"
	"belfry/internal/orchestrator"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one archive cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.buildLogger(verbose)
			if err != nil {
				return err
			}

			orch, jrn, err := buildOrchestrator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer jrn.Close()

			summary, err := orch.RunCycle(cmd.Context())
			if err != nil {
				return fmt.Errorf("archive cycle: %w", err)
			}

			rows := [][]string{
				{"Doorbells polled", strconv.Itoa(summary.Doorbells)},
				{"New events", strconv.Itoa(summary.EventsSeen)},
				{"Archived", strconv.Itoa(summary.EventsProcessed)},
				{"Failed", strconv.Itoa(summary.EventsFailed)},
				{"Merge failures", strconv.Itoa(summary.MergeFailures)},
				{"Segments downloaded", strconv.Itoa(summary.SegmentsDownloaded)},
				{"Duration", summary.Duration.Round(time.Millisecond).String()},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummaryTable("Cycle", rows))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to the console")
	return cmd
}

// buildOrchestrator wires the archive pipeline from configuration. The
// returned journal must be closed by the caller.
func buildOrchestrator(ctx *commandContext, cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, *journal.Journal, error) {
	client, err := ctx.buildClient(logger)
	if err != nil {
		return nil, nil, err
	}

	led := ledger.Open(cfg.LedgerPath(), defaultDoor(cfg), logger)
	jrn, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}

	ffmpeg := ""
	if cfg.Assembly.Merge {
		ffmpeg = cfg.FFmpegBinary()
	}
	assembler := assemble.New(ffmpeg, time.Duration(cfg.Assembly.Timeout)*time.Second, logger)

	orch, err := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Client:    client,
		Ledger:    led,
		Journal:   jrn,
		Assembler: assembler,
		Notifier:  notifications.NewService(cfg),
		Logger:    logger,
	})
	if err != nil {
		jrn.Close()
		return nil, nil, err
	}
	return orch, jrn, nil
}

func defaultDoor(cfg *config.Config) string {
	if len(cfg.Doorbells.Names) > 0 {
		return cfg.Doorbells.Names[0]
	}
	return ""
}
