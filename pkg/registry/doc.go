/*
Package registry tracks which relayer streams are currently attached to
this control plane instance.

Each attached stream is represented by a ClusterConnection handle. A
cluster has at most one live connection: registering a new handle for a
cluster returns the previous one so the caller can displace it.
Unregister is conditional on handle identity, which keeps a slow
teardown of a displaced session from removing its replacement.
*/
package registry
