package wire

import (
	"context"

	"google.golang.org/grpc"
)

// AdminOp identifies an administrative operation. The set is closed;
// the dispatcher validates parameters per operation before anything
// reaches the wire.
type AdminOp int

const (
	OpCreateProjection AdminOp = iota + 1
	OpEnableProjection
	OpDisableProjection
	OpResetProjection
	OpCreatePersistentSubscription
	OpUpdatePersistentSubscription
	OpDeletePersistentSubscription
	OpReplayParkedMessages
	OpRestartSubsystem
	OpResignNode
	OpShutdownNode
)

func (op AdminOp) String() string {
	switch op {
	case OpCreateProjection:
		return "create-projection"
	case OpEnableProjection:
		return "enable-projection"
	case OpDisableProjection:
		return "disable-projection"
	case OpResetProjection:
		return "reset-projection"
	case OpCreatePersistentSubscription:
		return "create-persistent-subscription"
	case OpUpdatePersistentSubscription:
		return "update-persistent-subscription"
	case OpDeletePersistentSubscription:
		return "delete-persistent-subscription"
	case OpReplayParkedMessages:
		return "replay-parked-messages"
	case OpRestartSubsystem:
		return "restart-subsystem"
	case OpResignNode:
		return "resign-node"
	case OpShutdownNode:
		return "shutdown-node"
	default:
		return "unknown"
	}
}

// AdminRequest is a correlated administrative call. CorrelationID
// doubles as an idempotency key a server may use to dedupe; this
// client never retries admin calls on its own.
type AdminRequest struct {
	CorrelationID string            `msgpack:"i"`
	Op            AdminOp           `msgpack:"o"`
	Target        string            `msgpack:"t,omitempty"`
	Group         string            `msgpack:"g,omitempty"`
	Query         string            `msgpack:"q,omitempty"`
	Params        map[string]string `msgpack:"p,omitempty"`
}

// AdminResponse reports the outcome of an AdminRequest.
type AdminResponse struct {
	CorrelationID string `msgpack:"i"`
	Success       bool   `msgpack:"s"`
	Message       string `msgpack:"m,omitempty"`
}

// ProjectionList is the response to ListProjections.
type ProjectionList struct {
	Projections []ProjectionStatus `msgpack:"p"`
}

// PersistentSubscriptionList is the response to ListPersistentSubscriptions.
type PersistentSubscriptionList struct {
	Subscriptions []PersistentSubscriptionInfo `msgpack:"s"`
}

// ListRequest is the empty request for the listing calls.
type ListRequest struct{}

// OperationsClient is the client API for the Operations service.
type OperationsClient interface {
	Admin(ctx context.Context, in *AdminRequest, opts ...grpc.CallOption) (*AdminResponse, error)
	ListProjections(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ProjectionList, error)
	ListPersistentSubscriptions(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*PersistentSubscriptionList, error)
}

type operationsClient struct {
	cc grpc.ClientConnInterface
}

// NewOperationsClient creates a new OperationsClient.
func NewOperationsClient(cc grpc.ClientConnInterface) OperationsClient {
	return &operationsClient{cc}
}

func (c *operationsClient) Admin(ctx context.Context, in *AdminRequest, opts ...grpc.CallOption) (*AdminResponse, error) {
	out := new(AdminResponse)
	opts = append(CallOptions(), opts...)
	if err := c.cc.Invoke(ctx, "/esdb.Operations/Admin", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *operationsClient) ListProjections(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ProjectionList, error) {
	out := new(ProjectionList)
	opts = append(CallOptions(), opts...)
	if err := c.cc.Invoke(ctx, "/esdb.Operations/ListProjections", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *operationsClient) ListPersistentSubscriptions(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*PersistentSubscriptionList, error) {
	out := new(PersistentSubscriptionList)
	opts = append(CallOptions(), opts...)
	if err := c.cc.Invoke(ctx, "/esdb.Operations/ListPersistentSubscriptions", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// OperationsServer is the server API for the Operations service.
type OperationsServer interface {
	Admin(context.Context, *AdminRequest) (*AdminResponse, error)
	ListProjections(context.Context, *ListRequest) (*ProjectionList, error)
	ListPersistentSubscriptions(context.Context, *ListRequest) (*PersistentSubscriptionList, error)
}

// RegisterOperationsServer registers the server.
func RegisterOperationsServer(s *grpc.Server, srv OperationsServer) {
	s.RegisterService(&_Operations_serviceDesc, srv)
}

var _Operations_serviceDesc = grpc.ServiceDesc{
	ServiceName: "esdb.Operations",
	HandlerType: (*OperationsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Admin",
			Handler:    _Operations_Admin_Handler,
		},
		{
			MethodName: "ListProjections",
			Handler:    _Operations_ListProjections_Handler,
		},
		{
			MethodName: "ListPersistentSubscriptions",
			Handler:    _Operations_ListPersistentSubscriptions_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "esdb.proto",
}

func _Operations_Admin_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AdminRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationsServer).Admin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/esdb.Operations/Admin",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationsServer).Admin(ctx, req.(*AdminRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Operations_ListProjections_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationsServer).ListProjections(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/esdb.Operations/ListProjections",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationsServer).ListProjections(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Operations_ListPersistentSubscriptions_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationsServer).ListPersistentSubscriptions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/esdb.Operations/ListPersistentSubscriptions",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationsServer).ListPersistentSubscriptions(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}
