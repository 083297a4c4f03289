package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/server"
	"mercator-hq/relay/pkg/telemetry/health"
	"mercator-hq/relay/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	noReload      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Relay proxy server",
	Long: `Start the proxy and management listeners with the specified configuration.

The configuration file is watched for changes; log level, pricing, default
key limits, strict routing and the admin token are applied without a
restart. SIGINT or SIGTERM triggers a graceful shutdown that drains
in-flight requests and flushes pending usage records.

Examples:
  # Start with default config
  relay run

  # Start with custom config
  relay run --config /etc/relay/config.yaml

  # Override listen address
  relay run --listen 0.0.0.0:8080

  # Validate config without starting server
  relay run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override proxy listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.noReload, "no-reload", false, "do not watch the config file for changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	logger, err := logging.Setup(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	printBanner(cmd, cfg)

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	opts := server.Options{
		Logger:  logger,
		Version: health.NewVersionInfo(Version, GitCommit, BuildDate),
	}
	if !runFlags.noReload {
		opts.ConfigPath = cfgFile
	}

	srv, err := server.New(cfg, opts)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	select {
	case <-srv.Ready():
		fmt.Fprintf(out, "✓ Proxy listening on %s\n", srv.ProxyAddr())
		if addr := srv.AdminAddr(); addr != "" {
			fmt.Fprintf(out, "✓ Management API on %s\n", addr)
		}
		fmt.Fprintln(out, "\nPress Ctrl+C to stop")
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	}

	if err := <-errChan; err != nil {
		slog.Error("server stopped with error", "error", err)
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Relay v%s\n", Version)
	fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("backends configured", "count", len(cfg.Backends))
	slog.Debug("rate limiting", "backend", cfg.Limits.RateLimit.Backend, "algorithm", cfg.Limits.RateLimit.Algorithm)
	slog.Debug("quota", "unit", cfg.Limits.Quota.Unit, "period", cfg.Limits.Quota.Period)
	if cfg.Usage.IsEnabled() {
		slog.Debug("usage recording enabled", "path", cfg.Usage.SQLite.Path)
	}
}
