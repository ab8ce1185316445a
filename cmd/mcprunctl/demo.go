package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/honganh1206/mcprun/facade"
	"github.com/honganh1206/mcprun/registry"
	"github.com/honganh1206/mcprun/utils"
)

var (
	demoEngine string
	demoPrompt string
)

const maxDemoTurns = 5

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a short tool-use loop against every configured server's tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		ctx, cancel := withShutdownSignal(cmd.Context())
		defer cancel()

		f := newFacade()
		defer f.Shutdown()

		sess := newSession(ctx, f, configs)
		defer sess.Close()

		catalog, err := buildToolCatalog(ctx, f, sess.ids)
		if err != nil {
			return err
		}
		if len(catalog) == 0 {
			return fmt.Errorf("no tools advertised by any connected server")
		}

		names := make([]string, 0, len(catalog))
		for _, entry := range catalog {
			names = append(names, entry.qualifiedName)
		}
		fmt.Print(utils.RenderBox(fmt.Sprintf("%d tools available", len(catalog)), names))

		switch demoEngine {
		case "anthropic":
			return runAnthropicDemo(ctx, f, catalog, demoPrompt)
		case "gemini":
			return runGeminiDemo(ctx, f, catalog, demoPrompt)
		default:
			return fmt.Errorf("unknown --engine %q (want anthropic or gemini)", demoEngine)
		}
	},
}

func init() {
	demoCmd.Flags().StringVar(&demoEngine, "engine", "anthropic", "LLM engine to drive the tool-use loop (anthropic, gemini)")
	demoCmd.Flags().StringVar(&demoPrompt, "prompt", "What tools do you have, and what does the first one do?", "Prompt to send the model")
}

// catalogEntry joins a facade tool to the server that owns it, namespaced
// the same way agent.RegisterMCPServers composes tool names
// (<server>_<tool>) so two servers can both expose a tool called "search"
// without colliding.
type catalogEntry struct {
	qualifiedName string
	serverID      registry.ServerID
	toolName      string
	description   string
	rawSchema     json.RawMessage
}

func buildToolCatalog(ctx context.Context, f *facade.Facade, ids []registry.ServerID) ([]catalogEntry, error) {
	var catalog []catalogEntry
	for _, id := range ids {
		result, err := f.ListTools(ctx, id)
		if err != nil {
			slog.Warn("mcprunctl: failed to list tools", "server", id, "err", err)
			continue
		}
		for _, t := range result.Tools {
			catalog = append(catalog, catalogEntry{
				qualifiedName: fmt.Sprintf("%s_%s", id, t.Name),
				serverID:      id,
				toolName:      t.Name,
				description:   t.Description,
				rawSchema:     t.RawInputSchema,
			})
		}
	}
	return catalog, nil
}

func lookupCatalogEntry(catalog []catalogEntry, qualifiedName string) (catalogEntry, bool) {
	for _, e := range catalog {
		if e.qualifiedName == qualifiedName {
			return e, true
		}
	}
	return catalogEntry{}, false
}

func runAnthropicDemo(ctx context.Context, f *facade.Facade, catalog []catalogEntry, prompt string) error {
	client := anthropic.NewClient() // reads ANTHROPIC_API_KEY from the environment

	toolParams := make([]anthropic.ToolUnionParam, 0, len(catalog))
	for _, entry := range catalog {
		var schema anthropic.ToolInputSchemaParam
		if len(entry.rawSchema) > 0 {
			_ = json.Unmarshal(entry.rawSchema, &schema)
		}
		toolParams = append(toolParams, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        entry.qualifiedName,
				Description: anthropic.String(entry.description),
				InputSchema: schema,
			},
		})
	}

	messages := []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))}

	for turn := 0; turn < maxDemoTurns; turn++ {
		resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.ModelClaudeSonnet4_0,
			MaxTokens: 1024,
			Messages:  messages,
			Tools:     toolParams,
		})
		if err != nil {
			return fmt.Errorf("anthropic inference: %w", err)
		}

		messages = append(messages, resp.ToParam())

		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				fmt.Println(variant.Text)
			case anthropic.ToolUseBlock:
				entry, ok := lookupCatalogEntry(catalog, variant.Name)
				if !ok {
					toolResults = append(toolResults, anthropic.NewToolResultBlock(variant.ID, fmt.Sprintf("unknown tool %q", variant.Name), true))
					continue
				}
				var args map[string]any
				_ = json.Unmarshal(variant.Input, &args)

				result, err := f.ExecuteTool(ctx, entry.serverID, entry.toolName, args)
				if err != nil {
					toolResults = append(toolResults, anthropic.NewToolResultBlock(variant.ID, err.Error(), true))
					continue
				}
				toolResults = append(toolResults, anthropic.NewToolResultBlock(variant.ID, concatToolText(result), false))
			}
		}

		if len(toolResults) == 0 {
			return nil
		}
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}
	return fmt.Errorf("tool-use loop did not converge within %d turns", maxDemoTurns)
}

func concatToolText(result *facade.ExecuteToolResult) string {
	var b strings.Builder
	for _, c := range result.Result {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func runGeminiDemo(ctx context.Context, f *facade.Facade, catalog []catalogEntry, prompt string) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  os.Getenv("GEMINI_API_KEY"),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(catalog))
	for _, entry := range catalog {
		var params genai.Schema
		if len(entry.rawSchema) > 0 {
			_ = json.Unmarshal(entry.rawSchema, &params)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        entry.qualifiedName,
			Description: entry.description,
			Parameters:  &params,
		})
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: 1024,
		Tools:           []*genai.Tool{{FunctionDeclarations: declarations}},
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	for turn := 0; turn < maxDemoTurns; turn++ {
		resp, err := client.Models.GenerateContent(ctx, "gemini-2.5-flash", contents, config)
		if err != nil {
			return fmt.Errorf("gemini inference: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return fmt.Errorf("gemini returned no content")
		}
		reply := resp.Candidates[0].Content
		contents = append(contents, reply)

		var functionResponses []*genai.Part
		for _, part := range reply.Parts {
			if part.Text != "" {
				fmt.Println(part.Text)
			}
			if part.FunctionCall != nil {
				fc := part.FunctionCall
				entry, ok := lookupCatalogEntry(catalog, fc.Name)
				if !ok {
					functionResponses = append(functionResponses, genai.NewPartFromFunctionResponse(fc.Name, map[string]any{"error": "unknown tool"}))
					continue
				}
				result, err := f.ExecuteTool(ctx, entry.serverID, entry.toolName, fc.Args)
				if err != nil {
					functionResponses = append(functionResponses, genai.NewPartFromFunctionResponse(fc.Name, map[string]any{"error": err.Error()}))
					continue
				}
				functionResponses = append(functionResponses, genai.NewPartFromFunctionResponse(fc.Name, map[string]any{"text": concatToolText(result)}))
			}
		}

		if len(functionResponses) == 0 {
			return nil
		}
		contents = append(contents, genai.NewContentFromParts(functionResponses, genai.RoleUser))
	}
	return fmt.Errorf("tool-use loop did not converge within %d turns", maxDemoTurns)
}
