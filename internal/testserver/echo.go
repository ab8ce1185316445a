// Package testserver implements a minimal in-process MCP server used only
// by this module's own tests, driven over stdio exactly like a real child
// process would be. It is re-exec'd as a subprocess of the test binary
// itself (see the TestMain hooks in registry/facade tests) rather than
// shipped as a separate fixture binary.
package testserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *uint64         `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      *uint64   `json:"id"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// RunEcho serves requests until r reaches EOF. It understands initialize,
// tools/list (one tool, "echo"), and tools/call (echoes back
// "Echo: <message>"). Anything else gets a JSON-RPC method-not-found
// error. notifications/initialized is accepted and ignored.
func RunEcho(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if req.ID == nil {
			// Notification; nothing to reply with.
			continue
		}

		switch req.Method {
		case "initialize":
			_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
				"capabilities": map[string]any{},
			}})
		case "tools/list":
			_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
				"tools": []map[string]any{
					{"name": "echo", "description": "Echoes back a message", "inputSchema": map[string]any{"type": "object"}},
				},
			}})
		case "tools/call":
			var params toolsCallParams
			_ = json.Unmarshal(req.Params, &params)
			if params.Name != "echo" {
				_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "unknown tool"}})
				continue
			}
			message, _ := params.Arguments["message"].(string)
			_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
				"content": []map[string]any{
					{"type": "text", "text": fmt.Sprintf("Echo: %s", message)},
				},
				"isError": false,
			}})
		default:
			_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found"}})
		}
	}
}

// RunExitAfterOne answers initialize, then answers the first tools/list
// (with an empty tool list) and exits; any other method gets a
// method-not-found error and also ends it. Used to test unexpected-exit
// detection mid-session.
func RunExitAfterOne(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue
		}

		switch req.Method {
		case "initialize":
			_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"capabilities": map[string]any{}}})
		case "tools/list":
			_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": []map[string]any{}}})
			count++
			if count >= 1 {
				return
			}
		default:
			_ = enc.Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found"}})
			return
		}
	}
}
