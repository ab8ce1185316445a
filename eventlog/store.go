// Package eventlog is a supplemental, optional audit trail of registry
// lifecycle events. It is deliberately not connection-state persistence:
// on restart nothing here is replayed into the registry, it only gives a
// host something to query after the fact. Two backends share the same
// package: a sqlite append-only table for durable history, and a buntdb
// ring buffer for the last N events used by live replay in
// cmd/mcprunctl watch --replay.
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/honganh1206/mcprun/registry"
	"github.com/honganh1206/mcprun/utils"
)

//go:embed schema.sql
var schemaSQL string

// DefaultPath resolves ~/.mcprun/events.db. It does not create the parent
// directory; Open does that.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mcprun", "events.db"), nil
}

// Store is a sqlite-backed append-only log of ConnectionEvents.
type Store struct {
	db *sql.DB
}

// Open creates/opens the sqlite database at path and ensures its schema
// exists. path's parent directory is created if missing.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create event log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event log database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize event log schema: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event log database: %w", err)
	}

	return &Store{db: db}, nil
}

// Append records one event. Duplicate EventIDs are ignored rather than
// treated as an error, since a Registry may be wired to more than one
// Store subscriber.
func (s *Store) Append(ctx context.Context, evt registry.ConnectionEvent) error {
	args, err := json.Marshal(evt.Args)
	if err != nil {
		return fmt.Errorf("marshal event args: %w", err)
	}

	const query = `
	INSERT OR IGNORE INTO events (event_id, type, server_id, status, reason, command, args, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err = s.db.ExecContext(ctx, query,
		evt.EventID, string(evt.Type), string(evt.ServerID), evt.Status.String(),
		evt.Reason, evt.Command, string(args), evt.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", evt.EventID, err)
	}
	return nil
}

// Record is one row read back from the log.
type Record struct {
	EventID    string
	Type       string
	ServerID   string
	Status     string
	Reason     string
	Command    string
	Args       []string
	OccurredAt time.Time
}

// Tail returns the most recent limit events for serverID, newest first.
// An empty serverID returns events for every server.
func (s *Store) Tail(ctx context.Context, serverID string, limit int) ([]Record, error) {
	query := strings.Builder{}
	query.WriteString("SELECT event_id, type, server_id, status, reason, command, args, occurred_at FROM events ")
	args := make([]any, 0, 2)
	if serverID != "" {
		query.WriteString("WHERE server_id = ? ")
		args = append(args, serverID)
	}
	query.WriteString("ORDER BY occurred_at DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var rawArgs, occurredAt string
		if err := rows.Scan(&rec.EventID, &rec.Type, &rec.ServerID, &rec.Status, &rec.Reason, &rec.Command, &rawArgs, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		_ = json.Unmarshal([]byte(rawArgs), &rec.Args)
		if t, err := utils.ParseTimeWithFallback(occurredAt); err == nil {
			rec.OccurredAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
