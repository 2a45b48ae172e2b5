package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Hermes - MCP registry gateway",
	Long: `Hermes is a reverse proxy and service registry for MCP servers.

It exposes a unified JSON-RPC endpoint to clients while handling:
  - Service discovery and capability-aware load balancing
  - Health monitoring and per-server circuit breaking
  - API-key and OAuth authentication with tool-level RBAC
  - Multi-tier, tenant-fair rate limiting with DDoS quarantine
  - Audit logging, Prometheus metrics, and distributed tracing`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
