// Package main provides the jsbuilder command: the bundle build server and
// its one-shot maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "jsbuilder",
		Short: "Custom JavaScript bundle build service",
		Long: `jsbuilder builds custom bundles of a JavaScript library on demand.

A bundle request names a source tree and the modules to include; the
result is built once per distinct configuration, cached on disk and
served to every later request with the same configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (default $CONFIG_FILE)")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		buildCmd(&configPath),
		digestCmd(&configPath),
		gcCmd(&configPath),
		versionCmd(),
	)
	return rootCmd
}
