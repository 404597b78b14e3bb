package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/ferrydock/ferry/pkg/relay/wire"
)

// Client is a connection to the control plane's relay service.
type Client struct {
	conn  *grpc.ClientConn
	relay *wire.RelayClient
}

// Dial connects to the control plane.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial control plane: %w", err)
	}
	return &Client{conn: conn, relay: wire.NewRelayClient(conn)}, nil
}

// FromConn wraps an existing connection. Used by tests.
func FromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, relay: wire.NewRelayClient(conn)}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Register performs one-time cluster registration. The returned config
// holds the cluster secret; it is the only copy the control plane will
// ever hand out.
func (c *Client) Register(ctx context.Context, apiKey, clusterName, relayerVersion string, capabilities []string) (string, *wire.RelayerConfig, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, wire.MetadataAPIKey, apiKey)
	resp, err := c.relay.RegisterCluster(ctx, &wire.RegisterClusterRequest{
		ClusterName:    clusterName,
		RelayerVersion: relayerVersion,
		Capabilities:   capabilities,
	})
	if err != nil {
		return "", nil, fmt.Errorf("registration failed: %w", err)
	}

	var cfg wire.RelayerConfig
	if err := json.Unmarshal([]byte(resp.ConfigJSON), &cfg); err != nil {
		return "", nil, fmt.Errorf("failed to decode relayer config: %w", err)
	}
	return resp.ClusterID, &cfg, nil
}

// Handlers receives inbound frames on an attached session. Nil fields
// drop their frames.
type Handlers struct {
	OnWorkItem          func(ctx context.Context, item *wire.WorkItem)
	OnAgentRegistration func(ctx context.Context, reg *wire.AgentRegistration)
}

// Attach opens the work stream with the cluster's credentials and
// starts the receive loop. The session stays open until Close, a stream
// error, or context cancellation.
func (c *Client) Attach(ctx context.Context, clusterID, clusterSecret string, handlers Handlers) (*Session, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		wire.MetadataClusterID, clusterID,
		wire.MetadataClusterSecret, clusterSecret,
	)
	stream, err := c.relay.StreamWork(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open work stream: %w", err)
	}

	s := &Session{
		stream:   stream,
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go s.recvLoop(ctx)
	return s, nil
}
