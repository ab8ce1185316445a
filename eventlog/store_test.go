package eventlog_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honganh1206/mcprun/eventlog"
	"github.com/honganh1206/mcprun/registry"
	"github.com/honganh1206/mcprun/transport"
)

func sampleEvent(serverID string) registry.ConnectionEvent {
	return registry.ConnectionEvent{
		EventID:   uuid.NewString(),
		Type:      registry.EventServerConnected,
		ServerID:  registry.ServerID(serverID),
		Status:    transport.StatusConnected,
		Timestamp: time.Now(),
		Command:   "echo-server",
		Args:      []string{"--flag"},
	}
}

func TestStoreAppendAndTail(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	store, err := eventlog.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	evt := sampleEvent("a")
	require.NoError(t, store.Append(ctx, evt))

	records, err := store.Tail(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, evt.EventID, records[0].EventID)
	assert.Equal(t, "server-connected", records[0].Type)
}

func TestStoreAppendIsIdempotentByEventID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	store, err := eventlog.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	evt := sampleEvent("a")
	require.NoError(t, store.Append(ctx, evt))
	require.NoError(t, store.Append(ctx, evt)) // duplicate id, ignored

	records, err := store.Tail(ctx, "a", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	ring, err := eventlog.NewRing(2)
	require.NoError(t, err)
	defer ring.Close()

	e1 := sampleEvent("a")
	time.Sleep(time.Millisecond)
	e2 := sampleEvent("b")
	time.Sleep(time.Millisecond)
	e3 := sampleEvent("c")

	require.NoError(t, ring.Push(e1))
	require.NoError(t, ring.Push(e2))
	require.NoError(t, ring.Push(e3))

	recent, err := ring.Recent()
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, e2.EventID, recent[0].EventID)
	assert.Equal(t, e3.EventID, recent[1].EventID)
}
