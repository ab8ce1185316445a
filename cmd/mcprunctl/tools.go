package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/honganh1206/mcprun/registry"
	"github.com/honganh1206/mcprun/utils"
)

var toolsCmd = &cobra.Command{
	Use:   "tools <server-id>",
	Short: "List the tools a connected server advertises",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		f := newFacade()
		defer f.Shutdown()

		sess := newSession(cmd.Context(), f, configs)
		defer sess.Close()

		serverID := registry.ServerID(args[0])
		result, err := f.ListTools(cmd.Context(), serverID)
		if err != nil {
			return err
		}

		if len(result.Tools) == 0 {
			fmt.Printf("Server %q advertises no tools.\n", serverID)
			return nil
		}

		headers := []string{"Name", "Description"}
		data := make([][]string, 0, len(result.Tools))
		for _, t := range result.Tools {
			data = append(data, []string{t.Name, t.Description})
		}
		utils.RenderTable(headers, data)
		return nil
	},
}
