// Package cmd implements the c2i-service command-line interface: a default
// "serve" command plus the hidden "internal-worker" entrypoint the Worker
// Dispatch re-invokes for each isolated generation.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "c2i-service",
	Short: "calendar2image generation control plane",
	Long: `c2i-service watches a directory of calendar-to-image configurations,
schedules their pre-generation on cron, serves generated images over HTTP,
and dispatches each generation to an isolated worker subprocess.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a service config file (optional; env and defaults still apply)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}
