/*
Package monitor runs the periodic health sweep over relayer sessions.

Each sweep force-detaches attached streams whose last inbound activity
is older than the heartbeat timeout, and reconciles storage against the
registry: a cluster recorded active with no attached stream and a
heartbeat more than twice the timeout old is marked inactive. The
reconcile pass covers sessions lost without a clean detach, such as a
control plane instance that crashed while holding the stream.
*/
package monitor
