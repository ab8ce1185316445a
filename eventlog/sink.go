package eventlog

import (
	"context"
	"log/slog"

	"github.com/honganh1206/mcprun/registry"
)

// Sink drains a registry event channel into a Store and/or Ring until
// the channel closes (i.e. until the subscriber is unsubscribed or the
// registry shuts down). Either backend may be nil; a nil backend is
// simply skipped.
func Sink(ctx context.Context, events <-chan registry.ConnectionEvent, store *Store, ring *Ring, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if store != nil {
				if err := store.Append(ctx, evt); err != nil {
					log.Warn("eventlog: failed to append event", "event_id", evt.EventID, "err", err)
				}
			}
			if ring != nil {
				if err := ring.Push(evt); err != nil {
					log.Warn("eventlog: failed to push event to ring", "event_id", evt.EventID, "err", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
