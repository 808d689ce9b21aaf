// Package main provides the entry point for the fieldscope CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldscope-io/fieldscope/cmd/fieldscope/commands"
	"github.com/fieldscope-io/fieldscope/pkg/version"
)

var (
	verbose    bool
	quiet      bool
	configPath string
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "fieldscope",
		Short: "Fieldscope - robot telemetry log toolkit",
		Long: `Fieldscope decodes, inspects, converts, and follows rtlog telemetry files.

Commands:
  decode    Decode log files and print per-file summaries
  inspect   Walk a log file record by record
  export    Convert a log file to NDJSON or YAML
  plot      Render selected fields as an HTML chart
  rewrite   Re-encode a log with a different version, codec, or trailer
  watch     Follow a live log file and decode on every change`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: .fieldscope.yaml in . or $HOME)")

	// Add commands.
	rootCmd.AddCommand(commands.NewDecodeCommand())
	rootCmd.AddCommand(commands.NewInspectCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewPlotCommand())
	rootCmd.AddCommand(commands.NewRewriteCommand())
	rootCmd.AddCommand(commands.NewWatchCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "fieldscope %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
