package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/honganh1206/mcprun/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Connect every configured server and print their live status",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		f := newFacade()
		defer f.Shutdown()

		sess := newSession(cmd.Context(), f, configs)
		defer sess.Close()

		conns := f.ListConnections()
		if len(conns) == 0 {
			fmt.Println("No active connections.")
			return nil
		}

		headers := []string{"Server ID", "Command", "Status"}
		data := make([][]string, 0, len(conns))
		for _, c := range conns {
			data = append(data, []string{string(c.ServerID), c.Command, c.Status.String()})
		}
		utils.RenderTable(headers, data)
		return nil
	},
}
