package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"stellar-hq/hermes/pkg/config"
)

var validateFlags struct {
	env bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check a configuration file for errors without starting the gateway.

The validate command parses the file, applies defaults, and runs the same
validation the run command performs at startup. With --env it also applies
HERMES_* environment variable overrides before validating, matching what
the gateway would actually run with.

Examples:
  # Validate the default config file
  hermes validate

  # Validate a specific file
  hermes validate --config /etc/hermes/config.yaml

  # Validate including environment overrides
  hermes validate --env`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.env, "env", false, "apply HERMES_* environment overrides before validating")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	load := config.LoadConfig
	if validateFlags.env {
		load = config.LoadConfigWithEnvOverrides
	}

	cfg, err := load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", cfgFile)
	fmt.Println()
	fmt.Printf("  Listen address:   %s\n", cfg.Server.ListenAddress)
	fmt.Printf("  Storage backend:  %s\n", cfg.Storage.Backend)
	fmt.Printf("  Routing policy:   %s\n", cfg.Router.Policy)
	fmt.Printf("  Rate limiting:    %s\n", onOff(cfg.RateLimit.Enabled))
	fmt.Printf("  OAuth:            %s\n", onOff(cfg.Auth.OAuth.Enabled))
	fmt.Printf("  Audit logging:    %s\n", onOff(cfg.Audit.Enabled))
	fmt.Printf("  Tracing:          %s\n", onOff(cfg.Telemetry.Tracing.Enabled))

	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
