package wire

import (
	"context"

	"google.golang.org/grpc"
)

// GossipRequest asks a node for its current view of the cluster.
type GossipRequest struct{}

// GossipClient is the client API for the Gossip service.
type GossipClient interface {
	Read(ctx context.Context, in *GossipRequest, opts ...grpc.CallOption) (*ClusterInfo, error)
}

type gossipClient struct {
	cc grpc.ClientConnInterface
}

// NewGossipClient creates a new GossipClient.
func NewGossipClient(cc grpc.ClientConnInterface) GossipClient {
	return &gossipClient{cc}
}

func (c *gossipClient) Read(ctx context.Context, in *GossipRequest, opts ...grpc.CallOption) (*ClusterInfo, error) {
	out := new(ClusterInfo)
	opts = append(CallOptions(), opts...)
	if err := c.cc.Invoke(ctx, "/esdb.Gossip/Read", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GossipServer is the server API for the Gossip service.
type GossipServer interface {
	Read(context.Context, *GossipRequest) (*ClusterInfo, error)
}

// RegisterGossipServer registers the server.
func RegisterGossipServer(s *grpc.Server, srv GossipServer) {
	s.RegisterService(&_Gossip_serviceDesc, srv)
}

var _Gossip_serviceDesc = grpc.ServiceDesc{
	ServiceName: "esdb.Gossip",
	HandlerType: (*GossipServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Read",
			Handler:    _Gossip_Read_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "esdb.proto",
}

func _Gossip_Read_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GossipRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GossipServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/esdb.Gossip/Read",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GossipServer).Read(ctx, req.(*GossipRequest))
	}
	return interceptor(ctx, in, info, handler)
}
