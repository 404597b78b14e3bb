package registry

import (
	"sync"
	"time"
)

// ClusterConnection is the registry's handle for one attached stream.
// The session that owns the stream closes Detach to tell the send loop
// to drain and exit.
type ClusterConnection struct {
	ClusterID      string
	OrganizationID string
	RelayerVersion string
	ConnectedAt    time.Time

	// Detach is closed exactly once, by the session that decides to end
	// the stream (displacement, idle timeout, shutdown).
	Detach chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
	detached bool
}

// NewClusterConnection creates a handle for a freshly attached stream.
func NewClusterConnection(clusterID, orgID, relayerVersion string) *ClusterConnection {
	now := time.Now()
	return &ClusterConnection{
		ClusterID:      clusterID,
		OrganizationID: orgID,
		RelayerVersion: relayerVersion,
		ConnectedAt:    now,
		Detach:         make(chan struct{}),
		lastSeen:       now,
	}
}

// Touch records activity on the connection.
func (c *ClusterConnection) Touch(at time.Time) {
	c.mu.Lock()
	c.lastSeen = at
	c.mu.Unlock()
}

// LastSeen reports the time of the most recent inbound activity.
func (c *ClusterConnection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// RequestDetach closes the Detach channel. Safe to call more than once.
func (c *ClusterConnection) RequestDetach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.detached {
		c.detached = true
		close(c.Detach)
	}
}

// Registry is the process-local map of attached relayer connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*ClusterConnection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*ClusterConnection)}
}

// Register installs conn as the cluster's live connection and returns
// the handle it displaced, if any.
func (r *Registry) Register(conn *ClusterConnection) *ClusterConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[conn.ClusterID]
	r.conns[conn.ClusterID] = conn
	return prev
}

// Unregister removes the cluster's entry only if it is still the given
// handle. A displaced session unregistering late is a no-op.
func (r *Registry) Unregister(conn *ClusterConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[conn.ClusterID] != conn {
		return false
	}
	delete(r.conns, conn.ClusterID)
	return true
}

// Get returns the live connection for a cluster, or nil.
func (r *Registry) Get(clusterID string) *ClusterConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[clusterID]
}

// Snapshot returns the current connections. The slice is fresh; the
// handles are shared.
func (r *Registry) Snapshot() []*ClusterConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*ClusterConnection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Len reports the number of attached connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
