package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/honganh1206/mcprun/registry"
)

var callCmd = &cobra.Command{
	Use:   "call <server-id> <tool> <json-arguments>",
	Short: "Invoke one tool on a connected server with JSON-encoded arguments",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		var arguments map[string]any
		if err := json.Unmarshal([]byte(args[2]), &arguments); err != nil {
			return fmt.Errorf("parse tool arguments as JSON: %w", err)
		}

		f := newFacade()
		defer f.Shutdown()

		sess := newSession(cmd.Context(), f, configs)
		defer sess.Close()

		serverID := registry.ServerID(args[0])
		result, err := f.ExecuteTool(cmd.Context(), serverID, args[1], arguments)
		if err != nil {
			return err
		}

		for _, content := range result.Result {
			switch content.Type {
			case "text":
				fmt.Println(content.Text)
			default:
				fmt.Printf("[%s content, mime=%s]\n", content.Type, content.MimeType)
			}
		}
		fmt.Printf("(%dms)\n", result.DurationMS)
		return nil
	},
}
