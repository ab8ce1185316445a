// Command mcprunctl is a reference CLI host for the MCP client runtime.
// It exists to exercise the facade end to end and to give cobra,
// tablewriter, tview, and the Anthropic/Gemini SDKs a concrete home.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/honganh1206/mcprun/facade"
	"github.com/honganh1206/mcprun/registry"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	envPath    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "mcprunctl",
	Short: "Drive MCP stdio servers through the mcprun client runtime",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(envPath); err != nil && verbose {
			fmt.Fprintf(os.Stderr, "mcprunctl: no .env file loaded: %v\n", err)
		}
	},
}

func newFacade() *facade.Facade {
	reg := registry.New(logger())
	return facade.New(reg, facade.ClientInfo{Name: "mcprunctl", Version: Version}, Version, logger())
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func Execute() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "mcprun.json", "Path to the JSON array of {id, command, args} server definitions")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "./.env", "Path to .env file for ANTHROPIC_API_KEY/GEMINI_API_KEY")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd, listCmd, toolsCmd, callCmd, watchCmd, demoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
