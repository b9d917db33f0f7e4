package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "trading-api",
		Short: "Swing-trade orchestration service backed by Alpaca",
		Long: `Serves the trading REST API and real-time channel, or runs one-off swing scans.

Configuration is read from an optional YAML file, then overridden by
environment variables (a .env file in the working directory is loaded first).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "path to YAML config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(scanCmd(&configPath))

	// Running without a subcommand serves.
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configPath)
	}
	return root
}
