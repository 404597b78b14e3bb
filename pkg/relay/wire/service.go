package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ferry.relay.v1.RelayService"

const (
	methodRegisterCluster = "/" + ServiceName + "/RegisterCluster"
	methodStreamWork      = "/" + ServiceName + "/StreamWork"
)

// RelayServer is the server-side contract for the relay service.
type RelayServer interface {
	// RegisterCluster performs one-time cluster registration.
	RegisterCluster(ctx context.Context, req *RegisterClusterRequest) (*RegisterClusterResponse, error)
	// StreamWork serves one relayer session for the life of the stream.
	StreamWork(stream StreamWorkServer) error
}

// StreamWorkServer is the server half of the bidirectional stream.
type StreamWorkServer interface {
	Send(*ServerMessage) error
	Recv() (*RelayerMessage, error)
	grpc.ServerStream
}

type streamWorkServer struct {
	grpc.ServerStream
}

func (s *streamWorkServer) Send(m *ServerMessage) error { return s.ServerStream.SendMsg(m) }

func (s *streamWorkServer) Recv() (*RelayerMessage, error) {
	m := new(RelayerMessage)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func registerClusterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterClusterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).RegisterCluster(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRegisterCluster}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayServer).RegisterCluster(ctx, req.(*RegisterClusterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamWorkHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).StreamWork(&streamWorkServer{stream})
}

// ServiceDesc is the hand-written service descriptor. The service is
// registered without generated code; frames travel as JSON via the
// codec in this package.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterCluster",
			Handler:    registerClusterHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamWork",
			Handler:       streamWorkHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay.json",
}

// RegisterRelayServer registers a RelayServer implementation.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// RelayClient is the client for the relay service. Relayers use it to
// register and attach their work stream.
type RelayClient struct {
	cc grpc.ClientConnInterface
}

// NewRelayClient wraps a client connection.
func NewRelayClient(cc grpc.ClientConnInterface) *RelayClient {
	return &RelayClient{cc: cc}
}

func (c *RelayClient) RegisterCluster(ctx context.Context, in *RegisterClusterRequest, opts ...grpc.CallOption) (*RegisterClusterResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	out := new(RegisterClusterResponse)
	if err := c.cc.Invoke(ctx, methodRegisterCluster, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamWorkClient is the client half of the bidirectional stream.
type StreamWorkClient interface {
	Send(*RelayerMessage) error
	Recv() (*ServerMessage, error)
	grpc.ClientStream
}

type streamWorkClient struct {
	grpc.ClientStream
}

func (s *streamWorkClient) Send(m *RelayerMessage) error { return s.ClientStream.SendMsg(m) }

func (s *streamWorkClient) Recv() (*ServerMessage, error) {
	m := new(ServerMessage)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *RelayClient) StreamWork(ctx context.Context, opts ...grpc.CallOption) (StreamWorkClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], methodStreamWork, opts...)
	if err != nil {
		return nil, err
	}
	return &streamWorkClient{stream}, nil
}
