package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - rate-limited, quota-aware reverse proxy for LLM APIs",
	Long: `Relay sits between client applications and LLM provider APIs.

Every request is authenticated with a relay-issued key, checked against the
key's rate limit and token quota, and forwarded to the active upstream
backend. Responses, including streamed ones, pass through unchanged while
token usage is metered and recorded.

The management API and the commands below administer keys, inspect usage
and switch the active backend.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code matching the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
