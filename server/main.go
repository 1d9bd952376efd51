// Package main implements the flowchain server binary.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is an optional YAML config file; the environment always applies.
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowchain",
	Short: "Flow chain and flow UI sync server",
	Long: `flowchain serves the flow chain of a work request, creates linked
artifacts from it, and keeps each user's flow layout in sync across sessions.

Configuration comes from an optional YAML file and SECTION_FIELD environment
variables such as DATABASE_URL, SERVER_PORT and BROKER_NATS_URL.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemaCmd)
}
