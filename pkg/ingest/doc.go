/*
Package ingest persists telemetry batches forwarded by relayer streams.

Each batch kind has a size cap; oversized batches are truncated rather
than rejected so a misconfigured relayer degrades instead of losing the
stream. Every item is stamped with the owning organization resolved from
its execution; items referencing an unknown execution or one owned by a
different tenant are dropped with a warning, never persisted under the
wrong organization.
*/
package ingest
