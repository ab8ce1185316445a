// Package registry holds the process-wide set of active MCP connections,
// serializes lifecycle changes, and fans out lifecycle events to
// subscribers without blocking the request path.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/honganh1206/mcprun/mcperr"
	"github.com/honganh1206/mcprun/transport"
)

// ServerID is an opaque, caller-chosen, case-sensitive identifier. Not
// interpreted by the registry beyond map-key equality.
type ServerID string

// EventType names the four lifecycle topics the registry can publish.
type EventType string

const (
	EventServerConnected    EventType = "server-connected"
	EventServerDisconnected EventType = "server-disconnected"
	EventConnectionChanged  EventType = "connection-changed"
	EventProcessError       EventType = "process-error"
)

// ConnectionEvent is a single lifecycle notification.
type ConnectionEvent struct {
	EventID   string
	Type      EventType
	ServerID  ServerID
	Status    transport.Status
	Reason    string
	Timestamp time.Time
	Command   string
	Args      []string
}

// ConnectionInfo is the snapshot shape returned by List.
type ConnectionInfo struct {
	ServerID    ServerID
	Command     string
	Args        []string
	Status      transport.Status
	ConnectedAt *time.Time
}

// eventBufferSize bounds each subscriber's channel. A slow subscriber
// drops events from the tail rather than blocking producers.
const eventBufferSize = 64

type subscriber struct {
	ch chan ConnectionEvent
}

// Registry is the authoritative, process-wide table of active transports.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[ServerID]*transport.Transport

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

// New creates an empty Registry. A nil logger defaults to slog.Default().
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		conns: make(map[ServerID]*transport.Transport),
		subs:  make(map[*subscriber]struct{}),
	}
}

// Connect spawns a transport for id and inserts it atomically with
// emitting server-connected + connection-changed. Fails with a
// Configuration error if id already exists or the command is empty, or a
// Connection error if the child fails to spawn.
func (r *Registry) Connect(ctx context.Context, id ServerID, spec transport.LaunchSpec) error {
	if id == "" {
		return mcperr.New(mcperr.Configuration, "server_id cannot be empty")
	}
	if spec.Command == "" {
		return mcperr.New(mcperr.Configuration, "command cannot be empty")
	}

	r.mu.Lock()
	if _, exists := r.conns[id]; exists {
		r.mu.Unlock()
		return mcperr.WithServer(mcperr.New(mcperr.Configuration, "server_id already exists"), string(id))
	}
	// Reserve the slot before releasing the lock so a concurrent Connect
	// for the same id observes the reservation, but don't hold the lock
	// across the spawn (which blocks on exec).
	r.conns[id] = nil
	r.mu.Unlock()

	tr, err := transport.Spawn(ctx, spec, r.log, func(status transport.Status, reason string, unexpected bool) {
		r.handleExit(id, status, reason, unexpected)
	})
	if err != nil {
		r.mu.Lock()
		delete(r.conns, id)
		r.mu.Unlock()
		return err
	}

	// Insert and publish under the same lock so no Disconnect or exit event
	// for id can be published between the two. publish never takes r.mu.
	r.mu.Lock()
	r.conns[id] = tr

	now := tr.CreatedAt()
	r.publish(ConnectionEvent{
		EventID: uuid.NewString(), Type: EventServerConnected, ServerID: id,
		Status: tr.Status(), Timestamp: now, Command: spec.Command, Args: spec.Args,
	})
	r.publish(ConnectionEvent{
		EventID: uuid.NewString(), Type: EventConnectionChanged, ServerID: id,
		Status: tr.Status(), Timestamp: now, Command: spec.Command, Args: spec.Args,
	})
	r.mu.Unlock()
	return nil
}

// Disconnect removes and closes the transport for id. Unknown id is a
// Configuration error.
func (r *Registry) Disconnect(id ServerID) error {
	r.mu.Lock()
	tr, ok := r.conns[id]
	if !ok || tr == nil {
		r.mu.Unlock()
		return mcperr.WithServer(mcperr.New(mcperr.Configuration, "unknown server_id"), string(id))
	}
	delete(r.conns, id)
	r.mu.Unlock()

	spec := tr.LaunchSpec()
	_ = tr.Close("requested")

	r.publish(ConnectionEvent{
		EventID: uuid.NewString(), Type: EventServerDisconnected, ServerID: id,
		Status: transport.StatusDisconnected, Reason: "requested", Timestamp: time.Now(),
		Command: spec.Command, Args: spec.Args,
	})
	r.publish(ConnectionEvent{
		EventID: uuid.NewString(), Type: EventConnectionChanged, ServerID: id,
		Status: transport.StatusDisconnected, Reason: "requested", Timestamp: time.Now(),
		Command: spec.Command, Args: spec.Args,
	})
	return nil
}

// Get returns the transport for id for the facade to route requests
// through. Fails with a Configuration error if absent.
func (r *Registry) Get(id ServerID) (*transport.Transport, error) {
	r.mu.RLock()
	tr, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok || tr == nil {
		return nil, mcperr.WithServer(mcperr.New(mcperr.Configuration, "unknown server_id"), string(id))
	}
	return tr, nil
}

// List returns a point-in-time snapshot of every held connection. Order is
// unspecified.
func (r *Registry) List() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(r.conns))
	for id, tr := range r.conns {
		if tr == nil {
			continue // mid-spawn reservation
		}
		spec := tr.LaunchSpec()
		createdAt := tr.CreatedAt()
		infos = append(infos, ConnectionInfo{
			ServerID: id, Command: spec.Command, Args: spec.Args,
			Status: tr.Status(), ConnectedAt: &createdAt,
		})
	}
	return infos
}

// handleExit is the transport's onStatusChange callback. It publishes the
// exit through the event channel only and leaves the handle in the map:
// Get keeps returning it, and calls on it fail with a Connection error
// until an explicit Disconnect removes it. It never holds the registry
// lock across the publish step, so it cannot deadlock against a
// concurrent Disconnect.
func (r *Registry) handleExit(id ServerID, status transport.Status, reason string, unexpected bool) {
	r.mu.RLock()
	tr, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok || tr == nil {
		// Already removed by an explicit Disconnect; nothing further to
		// publish.
		return
	}

	spec := tr.LaunchSpec()
	now := time.Now()

	r.publish(ConnectionEvent{
		EventID: uuid.NewString(), Type: EventServerDisconnected, ServerID: id,
		Status: status, Reason: reason, Timestamp: now, Command: spec.Command, Args: spec.Args,
	})
	r.publish(ConnectionEvent{
		EventID: uuid.NewString(), Type: EventConnectionChanged, ServerID: id,
		Status: status, Reason: reason, Timestamp: now, Command: spec.Command, Args: spec.Args,
	})
	if unexpected {
		r.publish(ConnectionEvent{
			EventID: uuid.NewString(), Type: EventProcessError, ServerID: id,
			Status: status, Reason: reason, Timestamp: now, Command: spec.Command, Args: spec.Args,
		})
	}
}

// Subscribe returns a channel of future events and an unsubscribe func.
// Event ordering per subscriber is FIFO; a slow subscriber drops events
// from the tail instead of blocking producers.
func (r *Registry) Subscribe() (<-chan ConnectionEvent, func()) {
	sub := &subscriber{ch: make(chan ConnectionEvent, eventBufferSize)}

	r.subMu.Lock()
	r.subs[sub] = struct{}{}
	r.subMu.Unlock()

	unsubscribe := func() {
		r.subMu.Lock()
		if _, ok := r.subs[sub]; ok {
			delete(r.subs, sub)
			close(sub.ch)
		}
		r.subMu.Unlock()
	}
	return sub.ch, unsubscribe
}

func (r *Registry) publish(evt ConnectionEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for sub := range r.subs {
		select {
		case sub.ch <- evt:
		default:
			r.log.Debug("mcp: dropping event for slow subscriber", "type", evt.Type, "server", evt.ServerID)
		}
	}
}

// Shutdown closes every held transport and guarantees no child outlives
// the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]ServerID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.Disconnect(id)
	}

	r.subMu.Lock()
	for sub := range r.subs {
		delete(r.subs, sub)
		close(sub.ch)
	}
	r.subMu.Unlock()
}
