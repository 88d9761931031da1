package wire

import (
	"context"

	"google.golang.org/grpc"
)

// Protocol revision spoken by this client. Nodes reject handshakes from
// revisions they do not support.
const ProtocolRevision = 1

// AuthRequest opens an authenticated session on a node.
type AuthRequest struct {
	Username string `msgpack:"u"`
	Password string `msgpack:"p"`
	Revision uint32 `msgpack:"v"`
}

// AuthResponse carries the session token attached to all later calls.
type AuthResponse struct {
	Token    string `msgpack:"t"`
	NodeID   string `msgpack:"n"`
	Revision uint32 `msgpack:"v"`
}

// AuthClient is the client API for the Auth service.
type AuthClient interface {
	Authenticate(ctx context.Context, in *AuthRequest, opts ...grpc.CallOption) (*AuthResponse, error)
}

type authClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthClient creates a new AuthClient.
func NewAuthClient(cc grpc.ClientConnInterface) AuthClient {
	return &authClient{cc}
}

func (c *authClient) Authenticate(ctx context.Context, in *AuthRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	opts = append(CallOptions(), opts...)
	if err := c.cc.Invoke(ctx, "/esdb.Auth/Authenticate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AuthServer is the server API for the Auth service.
type AuthServer interface {
	Authenticate(context.Context, *AuthRequest) (*AuthResponse, error)
}

// RegisterAuthServer registers the server.
func RegisterAuthServer(s *grpc.Server, srv AuthServer) {
	s.RegisterService(&_Auth_serviceDesc, srv)
}

var _Auth_serviceDesc = grpc.ServiceDesc{
	ServiceName: "esdb.Auth",
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Authenticate",
			Handler:    _Auth_Authenticate_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "esdb.proto",
}

func _Auth_Authenticate_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AuthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServer).Authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/esdb.Auth/Authenticate",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServer).Authenticate(ctx, req.(*AuthRequest))
	}
	return interceptor(ctx, in, info, handler)
}
