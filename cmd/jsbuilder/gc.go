package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

func gcCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run one cleanup sweep",
		Long: `Remove abandoned workspaces and stale temp files, expire artifacts
unused for longer than the retention period, and trim the compiled
directory to its size budget. The report is printed as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.cleanup.RunAll(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
