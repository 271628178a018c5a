/*
Package events provides an in-memory event broker for the sync engine's
pub/sub notifications.

The events package implements a lightweight event bus for broadcasting
engine-lifecycle events (state transitions, sync cycle results,
conflicts) to interested subscribers, such as a host application's UI
or the metrics package. It supports buffered, non-blocking delivery so
a slow subscriber never stalls the engine.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop → Subscriber Channels (50)  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │  engine.state_changed, engine.sync_started, │          │
	│  │  engine.sync_completed, engine.sync_failed, │          │
	│  │  item.conflict, item.pushed, item.applied,  │          │
	│  │  relay.connected, relay.disconnected        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			switch ev.Type {
			case events.EventConflict:
				log.Warn(ev.Message)
			case events.EventStateChanged:
				log.Info(ev.Message)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventStateChanged,
		Message: "syncing -> connected",
		Metadata: map[string]string{"room": "album-42"},
	})

# Integration Points

  - pkg/syncengine: publishes state transitions and per-cycle results
  - cmd/troparceld: subscribes to print a live status line

pkg/syncmetrics does not subscribe; pkg/syncengine updates its counters
directly.

# Design Notes

Publish is fire-and-forget: a full subscriber buffer drops the event
rather than blocking the publisher. This mirrors the engine's own
reconcile-style operation — the next sync cycle or safety-net tick
will re-derive state, so a dropped notification does not lose data, it
only delays when an observer learns about it.
*/
package events
