/*
Package executions owns the execution lifecycle and the submission path.

The lifecycle is a monotonic state machine: pending, queued, running,
then one of completed or failed. Transitions only move forward; a replay
of the current terminal status is an idempotent no-op, while any other
backward move is rejected. Status reports are tenant-checked against the
execution's owning organization before they are applied.

Submit resolves the agent, persists the execution, picks the caller's
healthiest active cluster, and enqueues a work message. With no active
cluster the execution stays pending; FlushPending drains those when a
cluster attaches.
*/
package executions
