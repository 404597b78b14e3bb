/*
Package events provides an in-memory event broker for Ferry's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting control
plane events to interested subscribers. It supports asynchronous event delivery
with per-subscriber buffering, enabling loose coupling between Ferry components
for lifecycle changes, notifications, and monitoring.

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (non-blocking)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Full subscriber buffers skip (no blocking)

# Event Types Catalog

Execution Events:
  - execution.queued: execution enqueued for a cluster
  - execution.running: relayer reported the execution started
  - execution.completed: terminal success
  - execution.failed: terminal failure

Cluster Events:
  - cluster.registered: relayer completed first-time registration
  - cluster.active: stream attached and authenticated
  - cluster.inactive: stream detached or heartbeats went stale
  - cluster.replaced: a newer stream displaced an existing session

Agent Events:
  - agent.registered: relayer acknowledged an agent definition
  - agent.failed: relayer rejected an agent definition

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventExecutionQueued,
		Message: "execution ex_123 queued for cluster cl_456",
	})

# Design Notes

Publish is non-blocking: delivery is best effort and a slow subscriber's
full buffer skips the event rather than stalling the broadcast loop. The
broker is in-memory only; subscribers that need durability write events
to their own store.
*/
package events
