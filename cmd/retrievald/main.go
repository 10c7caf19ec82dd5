package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gaborage/go-retrieval/internal/commands"
)

var version = "dev" // Will be set during build

func main() {
	rootCmd := &cobra.Command{
		Use:   "retrievald",
		Short: "Keep the latest content of HTTP sources at hand",
		Long: `retrievald periodically retrieves content from sets of equivalent HTTP sources,
keeps the latest successful result of each fetcher and publishes it to interested
listeners. A status API under /_sys/fetch lists and triggers the fetchers.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add commands
	rootCmd.AddCommand(
		commands.NewRunCommand(version),
		commands.NewFetchCommand(),
		commands.NewVersionCommand(version),
	)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
