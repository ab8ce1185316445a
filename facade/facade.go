// Package facade is the command surface callers use: health, connect,
// disconnect, list, list tools, execute tool. It owns request id
// allocation, the initialize handshake, and per-call timeouts, translating
// registry/transport failures into the stable mcperr taxonomy.
package facade

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/honganh1206/mcprun/idgen"
	"github.com/honganh1206/mcprun/mcperr"
	"github.com/honganh1206/mcprun/registry"
	"github.com/honganh1206/mcprun/transport"
)

// Timeouts for each JSON-RPC method the facade issues.
const (
	initializeTimeout = 10 * time.Second
	toolsListTimeout  = 10 * time.Second
	toolsCallTimeout  = 30 * time.Second
)

const protocolVersion = "2024-11-05"

// requestIDs is the single process-wide request id source shared by every
// Facade.
var requestIDs = idgen.New()

// HealthInfo is the constant metadata returned by HealthCheck.
type HealthInfo struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	PluginName  string `json:"plugin_name"`
	Initialized bool   `json:"initialized"`
}

// ClientInfo identifies this runtime to the child servers it connects to.
type ClientInfo struct {
	Name    string
	Version string
}

// Facade is the surface callers use. Every operation is safe under
// parallel invocation.
type Facade struct {
	reg    *registry.Registry
	ids    *idgen.Generator
	log    *slog.Logger
	client ClientInfo

	version string
}

// New builds a Facade over reg. version is reported by HealthCheck.
func New(reg *registry.Registry, client ClientInfo, version string, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.Default()
	}
	return &Facade{
		reg:     reg,
		ids:     requestIDs,
		log:     log,
		client:  client,
		version: version,
	}
}

// HealthCheck never fails.
func (f *Facade) HealthCheck() HealthInfo {
	return HealthInfo{
		Status:      "healthy",
		Version:     f.version,
		PluginName:  "mcprun",
		Initialized: true,
	}
}

// ConnectServer spawns the child, registers it, and performs the
// initialize handshake eagerly so a failed handshake surfaces at connect
// time. The protocolVersion in the server's reply is not compared with
// the one sent. If the handshake fails the connection is torn back down;
// a server-side error comes back as a Protocol error, a transport failure
// (spawned child gone, timeout) as a Connection error.
func (f *Facade) ConnectServer(ctx context.Context, id registry.ServerID, command string, args []string) error {
	spec := transport.LaunchSpec{Command: command, Args: args}
	if err := f.reg.Connect(ctx, id, spec); err != nil {
		return err
	}

	if err := f.initialize(ctx, id); err != nil {
		_ = f.reg.Disconnect(id)
		return err
	}
	return nil
}

func (f *Facade) initialize(ctx context.Context, id registry.ServerID) error {
	tr, err := f.reg.Get(id)
	if err != nil {
		return err
	}

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    f.client.Name,
			"version": f.client.Version,
		},
	}

	if _, err := tr.SendRequest(ctx, f.ids.Next(), "initialize", params, initializeTimeout); err != nil {
		if mcperr.KindOf(err) == mcperr.Connection {
			return err
		}
		return mcperr.WithServer(mcperr.Wrap(mcperr.Protocol, err, "initialize handshake failed"), string(id))
	}

	return tr.Notify(ctx, "notifications/initialized", nil)
}

// DisconnectServer removes and closes the connection. Unknown id is a
// Configuration error.
func (f *Facade) DisconnectServer(id registry.ServerID) error {
	return f.reg.Disconnect(id)
}

// ListConnections is a snapshot of every currently-held connection.
func (f *Facade) ListConnections() []registry.ConnectionInfo {
	return f.reg.List()
}

// ToolResultContent is one opaque content block of a tools/call result.
type ToolResultContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Tool is one entry from a server's tools/list result.
type Tool struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	RawInputSchema json.RawMessage `json:"inputSchema"`
}

// ToolsListResult is the raw tools/list result handed back to the caller.
type ToolsListResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListTools issues one tools/list request with empty params.
func (f *Facade) ListTools(ctx context.Context, id registry.ServerID) (*ToolsListResult, error) {
	tr, err := f.reg.Get(id)
	if err != nil {
		return nil, err
	}

	raw, err := tr.SendRequest(ctx, f.ids.Next(), "tools/list", map[string]any{}, toolsListTimeout)
	if err != nil {
		return nil, err
	}

	var result ToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperr.WithServer(mcperr.Wrap(mcperr.Protocol, err, "malformed tools/list result"), string(id))
	}
	return &result, nil
}

// toolsCallResult is the wire shape of a tools/call response.
type toolsCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError"`
}

// ExecuteToolResult is what ExecuteTool returns: the raw result plus the
// measured wall-clock duration of the call.
type ExecuteToolResult struct {
	Result     []ToolResultContent
	DurationMS int64
}

// ExecuteTool issues one tools/call request, passing arguments through
// verbatim — the core does not validate against inputSchema.
func (f *Facade) ExecuteTool(ctx context.Context, id registry.ServerID, toolName string, arguments map[string]any) (*ExecuteToolResult, error) {
	tr, err := f.reg.Get(id)
	if err != nil {
		return nil, err
	}

	params := map[string]any{"name": toolName, "arguments": arguments}

	start := time.Now()
	raw, err := tr.SendRequest(ctx, f.ids.Next(), "tools/call", params, toolsCallTimeout)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}

	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperr.WithServer(mcperr.Wrap(mcperr.Protocol, err, "malformed tools/call result"), string(id))
	}

	if result.IsError {
		msg := "tool call failed with server-side error"
		if len(result.Content) > 0 && result.Content[0].Type == "text" {
			msg = result.Content[0].Text
		}
		return nil, mcperr.WithServer(mcperr.New(mcperr.Protocol, "tool %q failed: %s", toolName, msg), string(id))
	}

	return &ExecuteToolResult{Result: result.Content, DurationMS: duration.Milliseconds()}, nil
}

// Subscribe exposes the registry's event stream to callers that want to
// react to lifecycle transitions.
func (f *Facade) Subscribe() (<-chan registry.ConnectionEvent, func()) {
	return f.reg.Subscribe()
}

// Shutdown closes every connection. Intended for process teardown.
func (f *Facade) Shutdown() {
	f.reg.Shutdown()
}
