package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"stellar-hq/hermes/pkg/app"
	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	noWatch       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Hermes gateway",
	Long: `Start the Hermes gateway with the specified configuration.

The gateway listens on the configured address, proxies MCP requests to
registered back-end servers, and serves the registry management API.

Examples:
  # Start with default config
  hermes run

  # Start with custom config
  hermes run --config /etc/hermes/config.yaml

  # Override listen address
  hermes run --listen 0.0.0.0:8080

  # Validate config without starting the gateway
  hermes run --dry-run`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
	runCmd.Flags().BoolVar(&runFlags.noWatch, "no-watch", false, "disable config file hot reload")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.Setup(&cfg.Telemetry.Logging)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Hermes v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	a, err := app.New(cfg, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	if !runFlags.noWatch {
		if err := a.WatchConfig(cfgFile); err != nil {
			logger.Warn("config hot reload unavailable", "error", err)
		}
	}

	fmt.Printf("✓ Storage backend: %s\n", cfg.Storage.Backend)
	if a.KV != nil {
		fmt.Println("✓ Cache store connected")
	}
	fmt.Println()
	fmt.Printf("✓ Gateway listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)
	fmt.Println("\nPress Ctrl+C to stop")

	if err := a.Run(context.Background()); err != nil {
		slog.Error("gateway exited with error", "error", err)
		return err
	}

	fmt.Println("✓ Gateway stopped")
	return nil
}

// loadConfig reads the config file named by --config. A missing file is
// only an error when the flag was set explicitly; otherwise the built-in
// defaults apply.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && cfgFile == "config.yaml" {
		cfg = config.NewDefaultConfig()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}
