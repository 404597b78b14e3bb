/*
Package relay implements the control plane side of the relayer session
protocol.

Server exposes the gRPC surface defined in pkg/relay/wire. A relayer
registers once with an organization API key and receives a cluster id
plus a one-time secret, then attaches a long-lived bidirectional stream
authenticated with that secret. Each attached stream is served by a
session: a send loop that drains the cluster's work queue in bounded
cycles and a receive loop that dispatches inbound frames.

Session rules:

  - One live stream per cluster. A new attach displaces the previous
    session, which drains and detaches without disturbing its
    replacement's registry entry.
  - The send loop's bounded dequeue doubles as the idle check: a
    session that has heard nothing for the idle timeout is closed and
    the cluster marked inactive.
  - A message that fails to write goes back to the head of its
    priority class, so delivery order is preserved across stream
    failures.
  - Inbound frame handler failures are logged and counted, never
    fatal to the stream; only transport errors end a session.
*/
package relay
