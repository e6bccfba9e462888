package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfigPath is used when -c is not given. A missing default file
// means built-in defaults plus HELPBOT_ environment overrides.
const defaultConfigPath = "helpbot.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "helpbot",
		Short:        "Collect vehicle dispatch records from chat",
		Long:         "helpbot reads free-form vehicle dispatch messages from Discord or Slack, stores one record per vehicle or task per day, and expires them after their date.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newDispatchCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "helpbot %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
