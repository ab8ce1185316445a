package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/honganh1206/mcprun/facade"
	"github.com/honganh1206/mcprun/registry"
)

// ServerConfig is one entry of the --config file: a server id and the
// command used to spawn it.
type ServerConfig struct {
	ID      string   `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// loadConfig reads the JSON array of ServerConfig entries at path.
func loadConfig(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var configs []ServerConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return configs, nil
}

// session wraps one command invocation's view of the runtime: it
// connects every configured server up front and guarantees they're all
// torn down again before the process exits. There is no persistence of
// connection state across invocations — each mcprunctl run is its own
// process-local session.
type session struct {
	f   *facade.Facade
	ids []registry.ServerID
}

func newSession(ctx context.Context, f *facade.Facade, configs []ServerConfig) *session {
	s := &session{f: f}
	for _, cfg := range configs {
		if err := f.ConnectServer(ctx, registry.ServerID(cfg.ID), cfg.Command, cfg.Args); err != nil {
			fmt.Fprintf(os.Stderr, "mcprunctl: failed to connect %q (%s): %v\n", cfg.ID, cfg.Command, err)
			continue
		}
		s.ids = append(s.ids, registry.ServerID(cfg.ID))
	}
	return s
}

func (s *session) Close() {
	for _, id := range s.ids {
		if err := s.f.DisconnectServer(id); err != nil {
			fmt.Fprintf(os.Stderr, "mcprunctl: error disconnecting %q: %v\n", id, err)
		}
	}
}
