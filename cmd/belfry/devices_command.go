package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"belfry/internal/cloud"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var (
		verbose bool
		saveDir string
	)

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List account devices and which ones are archived",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.buildLogger(verbose)
			if err != nil {
				return err
			}
			client, err := ctx.buildClient(logger)
			if err != nil {
				return err
			}

			devices, err := client.Devices(cmd.Context())
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}

			configured := make(map[string]struct{}, len(cfg.Doorbells.Names))
			for _, name := range cfg.Doorbells.Names {
				configured[name] = struct{}{}
			}

			rows := make([][]string, 0, len(devices))
			for _, device := range devices {
				_, archived := configured[device.Name]
				rows = append(rows, []string{
					device.Name,
					device.Model,
					device.DID,
					yesNo(device.IsDoorbell(cfg.Doorbells.ModelPrefix)),
					yesNo(archived),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Model", "Device ID", "Doorbell", "Archived"},
				rows,
			))

			if saveDir != "" {
				path, err := saveDeviceSnapshot(saveDir, devices)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log request details to the console")
	cmd.Flags().StringVar(&saveDir, "save", "", "Write a timestamped JSON snapshot of the device list to this directory")
	return cmd
}

func saveDeviceSnapshot(dir string, devices []cloud.Device) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode device snapshot: %w", err)
	}
	path := filepath.Join(dir, "devices-"+time.Now().Format("20060102-150405")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write device snapshot: %w", err)
	}
	return path, nil
}
