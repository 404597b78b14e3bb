/*
Package storage defines the persistence layer for Ferry control-plane state.

The Store interface covers organizations, API keys, clusters, agents,
executions, telemetry ingestion and audit entries. Two implementations
exist:

  - PostgresStore: the production store, backed by a pgx connection pool.
    Telemetry batches use COPY for bulk throughput. The schema is applied
    at startup with Migrate.
  - MemoryStore: a map-backed store for tests and single-process
    development. Not durable.

Lookups that miss return types.ErrNotFound. Unique-constraint violations
on agent names return types.ErrConflict.
*/
package storage
