package main

import (
	"fmt"
	"syscall"
	"time"

	"os/signal"

	"github.com/spf13/cobra"

	"belfry/internal/assemble"
	"belfry/internal/daemon"
	"belfry/internal/journal"
	"belfry/internal/ledger"
	"belfry/internal/logging"
	"belfry/internal/metrics"
	"belfry/internal/notifications"
	"belfry/internal/orchestrator"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the archiver in the foreground, polling on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Level:    cfg.Logging.Level,
				Format:   cfg.Logging.Format,
				FilePath: cfg.LogFilePath(),
			})
			if err != nil {
				return err
			}

			client, err := ctx.buildClient(logger)
			if err != nil {
				return err
			}
			led := ledger.Open(cfg.LedgerPath(), defaultDoor(cfg), logger)
			jrn, err := journal.Open(cfg.JournalPath())
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			met := metrics.New()

			ffmpeg := ""
			if cfg.Assembly.Merge {
				ffmpeg = cfg.FFmpegBinary()
			}
			orch, err := orchestrator.New(orchestrator.Deps{
				Config:    cfg,
				Client:    client,
				Ledger:    led,
				Journal:   jrn,
				Assembler: assemble.New(ffmpeg, time.Duration(cfg.Assembly.Timeout)*time.Second, logger),
				Notifier:  notifications.NewService(cfg),
				Metrics:   met,
				Logger:    logger,
			})
			if err != nil {
				jrn.Close()
				return err
			}

			d, err := daemon.New(cfg, orch, led, jrn, met, logger)
			if err != nil {
				jrn.Close()
				return err
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(runCtx); err != nil {
				return err
			}

			api := daemon.NewAPIServer(cfg, d, logger)
			if api != nil {
				if err := api.Start(runCtx); err != nil {
					d.Stop()
					return err
				}
				defer api.Stop()
			}

			<-runCtx.Done()
			d.Stop()
			return nil
		},
	}
}
