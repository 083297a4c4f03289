package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/security/secrets"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Long: `Load the configuration with environment overrides, validate it and
resolve every ${secret:name} reference without starting the server.

Examples:
  relay config check --config /etc/relay/config.yaml`,
	Args: cobra.NoArgs,
	RunE: checkConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCheckCmd)
}

func checkConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resolver, err := secrets.NewResolverFromConfig(cfg.Security.Secrets)
	if err != nil {
		return cli.NewConfigError("security.secrets", err.Error())
	}
	if err := resolver.ResolveConfig(cmd.Context(), cfg); err != nil {
		return cli.NewConfigError("security.secrets", err.Error())
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", cfgFile)
	if verbose {
		fmt.Fprintf(out, "  proxy:      %s\n", cfg.Proxy.ListenAddress)
		if cfg.Management.IsEnabled() {
			fmt.Fprintf(out, "  management: %s\n", cfg.Management.ListenAddress)
		}
		fmt.Fprintf(out, "  backends:   %d\n", len(cfg.Backends))
		fmt.Fprintf(out, "  rate limit: %s (%s)\n", cfg.Limits.RateLimit.Backend, cfg.Limits.RateLimit.Algorithm)
		fmt.Fprintf(out, "  quota:      %s per %s\n", cfg.Limits.Quota.Unit, cfg.Limits.Quota.Period)
		fmt.Fprintf(out, "  storage:    %s\n", cfg.Storage.Path)
	}
	return nil
}
