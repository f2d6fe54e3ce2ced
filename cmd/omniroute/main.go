// Package main provides the entry point for the omniroute daemon and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omniroute/omniroute/cmd/omniroute/commands"
	"github.com/omniroute/omniroute/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "omniroute",
		Short: "Omniroute - adaptive workflow routing core",
		Long: `Omniroute routes workflow, AI, and RAG tasks across execution
backends, learning adapter preference orders from observed outcomes.

Commands:
  serve     Run the routing daemon
  status    Show a running daemon's routing state`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
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
			fmt.Fprintf(os.Stdout, "omniroute %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
