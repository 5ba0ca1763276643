// Package main is the loom CLI: a chat-style assistant service that
// drives LLM runs over websocket channels.
//
// Start the server:
//
//	loom serve --config loom.yaml
//
// Validate a configuration file without starting anything:
//
//	loom config validate --config loom.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - streaming LLM assistant service",
		Long: `Loom runs agents against LLM providers and streams the results over
websocket channels. Runs execute locally against chat-completion APIs or
remotely against hosted assistant APIs, with tool calling in both modes.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildAgentsCmd(),
	)
	return rootCmd
}
