/*
Package wire defines the relayer session protocol: the frame types
exchanged over the bidirectional stream, the JSON codec they travel in,
and the hand-written gRPC service descriptor that binds them.

The service exposes two methods. RegisterCluster is a unary call that a
relayer makes exactly once with an organization API key; it creates the
cluster record and returns the cluster id plus a one-time secret inside
the config payload. StreamWork is the long-lived bidirectional stream:
the relayer authenticates with its cluster id and secret in metadata,
receives work_item and agent_registration frames, and sends heartbeat,
execution_status, and telemetry batch frames.

Frames are tagged unions: Kind selects which pointer field is set.
Unknown inbound kinds are ignored by the receiver so either side can be
upgraded first.
*/
package wire
