package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/narvanalabs/jsbuilder/internal/builder"
	"github.com/narvanalabs/jsbuilder/internal/models"
)

func digestCmd(configPath *string) *cobra.Command {
	var raw models.RawParams

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the cache key of a bundle request",
		Long: `Print the cache key a bundle request resolves to, without building it.

Examples:
  jsbuilder digest --owner=acme --repo=lib --ref=main --include=core,main
  jsbuilder digest --owner=acme --repo=lib --ref=v1 --name=lib.zip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSource(&raw); err != nil {
				return err
			}
			cfg, log, err := loadConfig(*configPath, io.Discard)
			if err != nil {
				return err
			}
			svc := builder.NewService(nil,
				builder.WithNormalizeOptions(normalizeOptions(cfg)),
				builder.WithLogger(log.Logger),
			)
			key, err := svc.Digest(raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	bindParams(cmd, &raw)
	return cmd
}
