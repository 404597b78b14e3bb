/*
Package types defines the core data structures used throughout Ferry.

This package contains the domain model of the control plane: organizations,
API keys, clusters (relayer registrations), agents, executions, queue
messages and telemetry rows. These types are used by all other packages for
state management, wire translation and dispatch logic.

The main types are:

Tenancy:
  - Organization: tenant root; owns every other entity
  - APIKey: prefix-indexed, hashed credential for the HTTP surface and
    relayer registration

Relayer topology:
  - Cluster: the control plane's record of one relayer registration
  - ClusterStatus: pending, active, inactive, failed

Work:
  - Agent: named execution recipe (image + resources + retry policy)
  - Execution: one invocation of an agent, tracked through its state machine
  - ExecutionStatus: pending → queued → running → completed | failed
  - QueueMessage: tagged union of outbound stream payloads (work item or
    agent registration)
  - Priority: high, normal, low

Telemetry:
  - LogEntry, MetricPoint, TraceSpan: tenant-scoped ingestion rows
  - AuditEntry: operation audit trail

All enums use typed string constants. Optional timestamps use pointers
(nil = not reached). Every struct is JSON-serializable; the queue encodes
QueueMessage as JSON and the stream codec reuses the same field names.

Error kinds surfaced across package boundaries live in errors.go and are
matched with errors.Is.
*/
package types
