/*
Package client is the relayer-side library for the session protocol.

A relayer dials the control plane, calls Register once with an
organization API key to obtain its cluster id and secret, then calls
Attach to open the work stream. Attach runs the receive loop and an
optional heartbeat ticker; inbound frames are delivered to the caller's
handlers. Session send methods are safe for concurrent use.
*/
package client
