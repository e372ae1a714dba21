// Itud is the governed-memory daemon. It runs every submission through the
// fixed decision pipeline, persists the audit trail in SQLite, and serves a
// JSON API for sessions, memory, and audit queries.
//
// Usage:
//
//	# Start the daemon with defaults (~/.config/itud/config.yaml if present)
//	itud serve
//
//	# Start with an explicit config file
//	itud serve --config /etc/itud/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "itud",
	Short: "Governed-memory decision daemon",
	Long: `itud gates an agent's durable memory behind a fixed governance
pipeline: forbidden-phrase validation, risk classification, stopgate
detection, override escalation, and a capacity-bounded memory gate, with
every decision committed atomically alongside its audit trail.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the itud daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("itud\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
