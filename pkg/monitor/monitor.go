package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ferrydock/ferry/pkg/events"
	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/metrics"
	"github.com/ferrydock/ferry/pkg/queue"
	"github.com/ferrydock/ferry/pkg/registry"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

const defaultInterval = 30 * time.Second

// Monitor sweeps sessions and reconciles cluster status.
type Monitor struct {
	store            storage.Store
	registry         *registry.Registry
	queue            queue.Queue
	broker           *events.Broker
	heartbeatTimeout time.Duration
	interval         time.Duration
	stopCh           chan struct{}
}

// New creates a monitor. heartbeatTimeout is the staleness bound for
// attached streams; interval <= 0 takes the default sweep period.
func New(store storage.Store, reg *registry.Registry, q queue.Queue, broker *events.Broker, heartbeatTimeout, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		store:            store,
		registry:         reg,
		queue:            q,
		broker:           broker,
		heartbeatTimeout: heartbeatTimeout,
		interval:         interval,
		stopCh:           make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the sweep loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Sweep runs one pass. Exported so tests drive it directly.
func (m *Monitor) Sweep(ctx context.Context) {
	now := time.Now()
	m.detachStale(now)
	m.reconcile(ctx, now)
}

// detachStale force-detaches sessions past the heartbeat timeout. A
// session exactly at the bound is still healthy.
func (m *Monitor) detachStale(now time.Time) {
	for _, conn := range m.registry.Snapshot() {
		silence := now.Sub(conn.LastSeen())
		if silence <= m.heartbeatTimeout {
			continue
		}
		log.WithClusterID(conn.ClusterID).Warn().
			Dur("silence", silence).
			Msg("Detaching stale relayer session")
		conn.RequestDetach()
	}
}

// reconcile marks inactive the clusters that storage believes are
// active but which no instance is serving. The doubled window keeps a
// session mid-reattach from being flapped.
func (m *Monitor) reconcile(ctx context.Context, now time.Time) {
	clusters, err := m.store.ListClustersByStatus(ctx, types.ClusterStatusActive)
	if err != nil {
		log.Errorf("Failed to list active clusters", err)
		return
	}
	for _, cluster := range clusters {
		m.recordDepth(ctx, cluster)
		if m.registry.Get(cluster.ID) != nil {
			continue
		}
		if cluster.LastHeartbeat != nil && now.Sub(*cluster.LastHeartbeat) <= 2*m.heartbeatTimeout {
			continue
		}
		if err := m.store.UpdateClusterStatus(ctx, cluster.ID, types.ClusterStatusInactive); err != nil {
			log.WithClusterID(cluster.ID).Error().Err(err).Msg("Failed to mark cluster inactive")
			continue
		}
		log.WithClusterID(cluster.ID).Warn().Msg("Reconciled orphaned active cluster to inactive")
		m.broker.Publish(&events.Event{
			Type:     events.EventClusterInactive,
			Message:  fmt.Sprintf("cluster %s reconciled to inactive", cluster.ID),
			Metadata: map[string]string{"cluster_id": cluster.ID},
		})
	}
}

// recordDepth publishes the cluster's backlog gauge.
func (m *Monitor) recordDepth(ctx context.Context, cluster *types.Cluster) {
	depth, err := m.queue.Depth(ctx, cluster.OrganizationID, cluster.ID)
	if err != nil {
		log.WithClusterID(cluster.ID).Error().Err(err).Msg("Failed to read queue depth")
		return
	}
	metrics.QueueDepth.WithLabelValues(cluster.ID).Set(float64(depth))
}
