package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ferrydock/ferry/pkg/credentials"
	"github.com/ferrydock/ferry/pkg/events"
	"github.com/ferrydock/ferry/pkg/executions"
	"github.com/ferrydock/ferry/pkg/ingest"
	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/metrics"
	"github.com/ferrydock/ferry/pkg/queue"
	"github.com/ferrydock/ferry/pkg/registry"
	"github.com/ferrydock/ferry/pkg/relay/wire"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

// Options tunes session behavior. Zero fields take defaults.
type Options struct {
	// HeartbeatInterval is handed to relayers at registration.
	HeartbeatInterval time.Duration
	// IdleTimeout closes sessions with no inbound activity.
	IdleTimeout time.Duration
	// DequeueWait bounds one send loop cycle.
	DequeueWait time.Duration
	// WriteTimeout bounds one stream write.
	WriteTimeout time.Duration
	// LogLevel is handed to relayers at registration.
	LogLevel string
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.DequeueWait <= 0 {
		o.DequeueWait = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
}

// Server implements wire.RelayServer.
type Server struct {
	store    storage.Store
	creds    *credentials.Manager
	queue    queue.Queue
	registry *registry.Registry
	execs    *executions.Service
	ingest   *ingest.Service
	broker   *events.Broker
	opts     Options
}

// NewServer wires the relay service.
func NewServer(store storage.Store, creds *credentials.Manager, q queue.Queue, reg *registry.Registry,
	execs *executions.Service, ing *ingest.Service, broker *events.Broker, opts Options) *Server {
	opts.withDefaults()
	return &Server{
		store:    store,
		creds:    creds,
		queue:    q,
		registry: reg,
		execs:    execs,
		ingest:   ing,
		broker:   broker,
		opts:     opts,
	}
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// RegisterCluster creates or finds a cluster by (organization, name).
// The caller authenticates with an organization API key; the first
// registration's response carries the cluster's only copy of its
// stream secret.
func (s *Server) RegisterCluster(ctx context.Context, req *wire.RegisterClusterRequest) (*wire.RegisterClusterResponse, error) {
	identity, err := s.creds.VerifyAPIKey(ctx, metadataValue(ctx, wire.MetadataAPIKey))
	if err != nil {
		metrics.AuthFailures.WithLabelValues("register").Inc()
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}
	if req.ClusterName == "" {
		return nil, status.Error(codes.InvalidArgument, "cluster name is required")
	}

	// Registration is idempotent on (organization, name): a relayer
	// that lost the first response gets its cluster id back, but the
	// secret only ever travels on the first registration.
	if existing, err := s.store.GetClusterByName(ctx, identity.OrganizationID, req.ClusterName); err == nil {
		return s.replayedRegistration(identity.OrganizationID, existing)
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, status.Error(codes.Internal, "failed to check cluster name")
	}

	secret, hash, err := s.creds.IssueClusterSecret()
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to issue cluster secret")
	}

	cluster := &types.Cluster{
		ID:             types.NewID("cl"),
		OrganizationID: identity.OrganizationID,
		Name:           req.ClusterName,
		Status:         types.ClusterStatusPending,
		SecretHash:     hash,
		RelayerVersion: req.RelayerVersion,
		Capabilities:   req.Capabilities,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateCluster(ctx, cluster); err != nil {
		if errors.Is(err, types.ErrConflict) {
			// Lost the race with a concurrent registration for the
			// same name.
			existing, gerr := s.store.GetClusterByName(ctx, identity.OrganizationID, req.ClusterName)
			if gerr != nil {
				return nil, status.Error(codes.Internal, "failed to load cluster")
			}
			return s.replayedRegistration(identity.OrganizationID, existing)
		}
		return nil, status.Error(codes.Internal, "failed to create cluster")
	}

	cfg, err := s.relayerConfigJSON(secret)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode relayer config")
	}

	log.WithOrgID(identity.OrganizationID).Info().
		Str("cluster_id", cluster.ID).
		Str("cluster_name", cluster.Name).
		Str("relayer_version", req.RelayerVersion).
		Msg("Cluster registered")
	s.broker.Publish(&events.Event{
		Type:    events.EventClusterRegistered,
		Message: fmt.Sprintf("cluster %s registered as %s", cluster.Name, cluster.ID),
		Metadata: map[string]string{
			"cluster_id": cluster.ID,
			"org_id":     identity.OrganizationID,
		},
	})

	return &wire.RegisterClusterResponse{ClusterID: cluster.ID, ConfigJSON: cfg}, nil
}

// replayedRegistration answers a repeat registration for a known
// cluster name. The config goes back without the secret.
func (s *Server) replayedRegistration(orgID string, cluster *types.Cluster) (*wire.RegisterClusterResponse, error) {
	cfg, err := s.relayerConfigJSON("")
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode relayer config")
	}
	log.WithOrgID(orgID).Info().
		Str("cluster_id", cluster.ID).
		Str("cluster_name", cluster.Name).
		Msg("Cluster registration replayed")
	return &wire.RegisterClusterResponse{ClusterID: cluster.ID, ConfigJSON: cfg}, nil
}

func (s *Server) relayerConfigJSON(secret string) (string, error) {
	cfg, err := json.Marshal(wire.RelayerConfig{
		ClusterSecret:       secret,
		HeartbeatIntervalMs: int(s.opts.HeartbeatInterval.Milliseconds()),
		LogLevel:            s.opts.LogLevel,
	})
	if err != nil {
		return "", err
	}
	return string(cfg), nil
}

// StreamWork serves one relayer session for the life of the stream.
func (s *Server) StreamWork(stream wire.StreamWorkServer) error {
	ctx := stream.Context()
	clusterID := metadataValue(ctx, wire.MetadataClusterID)
	secret := metadataValue(ctx, wire.MetadataClusterSecret)

	orgID, err := s.creds.VerifyClusterSecret(ctx, clusterID, secret)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("stream").Inc()
		return status.Error(codes.Unauthenticated, "invalid cluster credentials")
	}

	cluster, err := s.store.GetCluster(ctx, clusterID)
	if err != nil {
		return status.Error(codes.Internal, "failed to load cluster")
	}

	conn := registry.NewClusterConnection(clusterID, orgID, cluster.RelayerVersion)
	if prev := s.registry.Register(conn); prev != nil {
		// The old session drains and exits; its late unregister is a
		// no-op because the entry now points at this handle.
		prev.RequestDetach()
		metrics.SessionsReplaced.Inc()
		log.WithClusterID(clusterID).Info().Msg("Displacing previous relayer session")
		s.broker.Publish(&events.Event{
			Type:     events.EventClusterReplaced,
			Message:  fmt.Sprintf("cluster %s stream replaced", clusterID),
			Metadata: map[string]string{"cluster_id": clusterID},
		})
	}

	metrics.ConnectedRelayers.Inc()
	defer metrics.ConnectedRelayers.Dec()

	now := time.Now()
	if err := s.store.UpdateClusterStatus(ctx, clusterID, types.ClusterStatusActive); err != nil {
		log.WithClusterID(clusterID).Error().Err(err).Msg("Failed to mark cluster active")
	}
	if err := s.store.UpdateClusterHeartbeat(ctx, clusterID, now); err != nil {
		log.WithClusterID(clusterID).Error().Err(err).Msg("Failed to stamp heartbeat")
	}
	s.broker.Publish(&events.Event{
		Type:     events.EventClusterActive,
		Message:  fmt.Sprintf("cluster %s attached", clusterID),
		Metadata: map[string]string{"cluster_id": clusterID, "org_id": orgID},
	})
	log.WithClusterID(clusterID).Info().Str("org_id", orgID).Msg("Relayer stream attached")

	// A fresh stream learns its agent set and picks up work that was
	// submitted while no cluster was attached.
	if err := s.execs.PushRegistrations(ctx, orgID, clusterID); err != nil {
		log.WithClusterID(clusterID).Warn().Err(err).Msg("Failed to push agent registrations on attach")
	}
	if err := s.execs.FlushPending(ctx, orgID, clusterID); err != nil {
		log.WithClusterID(clusterID).Warn().Err(err).Msg("Failed to flush pending executions on attach")
	}

	sess := &session{server: s, conn: conn, orgID: orgID, clusterID: clusterID}
	runErr := sess.run(stream)

	if s.registry.Unregister(conn) {
		// Still the live connection, so the cluster really went away.
		if err := s.store.UpdateClusterStatus(context.WithoutCancel(ctx), clusterID, types.ClusterStatusInactive); err != nil {
			log.WithClusterID(clusterID).Error().Err(err).Msg("Failed to mark cluster inactive")
		}
		s.broker.Publish(&events.Event{
			Type:     events.EventClusterInactive,
			Message:  fmt.Sprintf("cluster %s detached", clusterID),
			Metadata: map[string]string{"cluster_id": clusterID},
		})
	}

	switch {
	case runErr == nil:
		log.WithClusterID(clusterID).Info().Msg("Relayer stream closed")
		return nil
	case errors.Is(runErr, types.ErrReplaced):
		log.WithClusterID(clusterID).Info().Msg("Relayer session displaced")
		return status.Error(codes.Aborted, "session replaced by newer stream")
	case errors.Is(runErr, types.ErrIdleTimeout):
		metrics.SessionsIdleTimeout.Inc()
		log.WithClusterID(clusterID).Warn().Msg("Relayer session idle timeout")
		return status.Error(codes.DeadlineExceeded, "session idle timeout")
	default:
		log.WithClusterID(clusterID).Warn().Err(runErr).Msg("Relayer stream failed")
		return runErr
	}
}
