package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/narvanalabs/jsbuilder/internal/models"
)

func buildCmd(configPath *string) *cobra.Command {
	var (
		raw    models.RawParams
		output string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build one bundle",
		Long: `Build one bundle through the same cache, index and pipeline the server
uses, and write it to a file or stdout. A bundle already published under
the same cache key is reused.

Examples:
  jsbuilder build --owner=acme --repo=lib --ref=main --include=core,main
  jsbuilder build --owner=acme --repo=lib --ref=main --name=lib.zip -o lib.zip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSource(&raw); err != nil {
				return err
			}
			cfg, log, err := loadConfig(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.service.Fetch(ctx, raw)
			if err != nil {
				return err
			}
			if err := copyArtifact(d.Path, output, cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", d.Key, d.DownloadName)
			return nil
		},
	}
	bindParams(cmd, &raw)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the bundle to this file instead of stdout")
	return cmd
}

func copyArtifact(src, dst string, stdout io.Writer) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if dst == "" {
		_, err = io.Copy(stdout, in)
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
