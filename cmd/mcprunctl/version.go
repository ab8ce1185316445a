package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build metadata and facade health",
	Run: func(cmd *cobra.Command, args []string) {
		f := newFacade()
		h := f.HealthCheck()
		fmt.Printf("mcprunctl %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		fmt.Printf("facade status: %s (%s, initialized=%t)\n", h.Status, h.PluginName, h.Initialized)
	},
}
