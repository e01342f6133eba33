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
	rootCmd := &cobra.Command{
		Use:   "chanrelay",
		Short: "Channel relay server",
		Long: `chanrelay relays text and inline-image messages between clients
joined to named channels, replaying each channel's history on join.

Clients speak a newline-delimited text protocol over TCP, or the same
protocol over WebSocket text frames at /ws.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
