package wire

import (
	"context"

	"google.golang.org/grpc"
)

// AllStreams is the stream name addressing the whole transaction log.
const AllStreams = "$all"

// ReadDirection selects the traversal order of a bounded read.
type ReadDirection int

const (
	ReadForward ReadDirection = iota
	ReadBackward
)

// ReadRequest is a bounded, non-live read of a stream.
type ReadRequest struct {
	Stream    string        `msgpack:"s"`
	Revision  uint64        `msgpack:"r"`
	FromEnd   bool          `msgpack:"e"`
	Direction ReadDirection `msgpack:"d"`
	MaxCount  uint64        `msgpack:"c"`
}

// SubscribeRequest opens a resumable subscription. With LiveOnly set
// the Revision fields are ignored and delivery starts at the next
// event appended after confirmation; otherwise delivery replays from
// Revision (or Position for $all) and transitions to live.
type SubscribeRequest struct {
	Stream   string         `msgpack:"s"`
	Revision uint64         `msgpack:"r"`
	Position Position       `msgpack:"p"`
	LiveOnly bool           `msgpack:"l"`
	Filter   *FilterOptions `msgpack:"f,omitempty"`
}

// FilterOptions narrows a $all subscription server-side.
type FilterOptions struct {
	StreamPrefixes    []string `msgpack:"s,omitempty"`
	EventTypePrefixes []string `msgpack:"t,omitempty"`
	StreamRegex       string   `msgpack:"r,omitempty"`
}

// Frame type tags for SubscribeFrame.
const (
	FrameConfirmed byte = iota + 1
	FrameEvent
	FrameCheckpoint
	FrameCaughtUp
	FrameDropped
)

// SubscribeFrame is one message on a subscription stream. Exactly one
// of the optional fields is set, selected by Type.
type SubscribeFrame struct {
	Type       byte             `msgpack:"t"`
	Confirmed  *Confirmed       `msgpack:"c,omitempty"`
	Event      *RecordedEvent   `msgpack:"e,omitempty"`
	Checkpoint *Position        `msgpack:"k,omitempty"`
	Dropped    *DropInfo        `msgpack:"d,omitempty"`
}

// Confirmed acknowledges that the server has established the
// subscription and reports the position replay starts from.
type Confirmed struct {
	SubscriptionID string `msgpack:"i"`
	LastRevision   uint64 `msgpack:"r"`
}

// DropInfo explains why the server terminated a subscription.
type DropInfo struct {
	Reason string `msgpack:"r"`
}

// StreamsClient is the client API for the Streams service.
type StreamsClient interface {
	Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (Streams_ReadClient, error)
	Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (Streams_SubscribeClient, error)
}

type streamsClient struct {
	cc grpc.ClientConnInterface
}

// NewStreamsClient creates a new StreamsClient.
func NewStreamsClient(cc grpc.ClientConnInterface) StreamsClient {
	return &streamsClient{cc}
}

// Streams_ReadClient receives the events of a bounded read. Recv
// returns io.EOF once the read is complete.
type Streams_ReadClient interface {
	Recv() (*RecordedEvent, error)
	grpc.ClientStream
}

type streamsReadClient struct {
	grpc.ClientStream
}

func (x *streamsReadClient) Recv() (*RecordedEvent, error) {
	m := new(RecordedEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *streamsClient) Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (Streams_ReadClient, error) {
	opts = append(CallOptions(), opts...)
	stream, err := c.cc.NewStream(ctx, &_Streams_serviceDesc.Streams[0], "/esdb.Streams/Read", opts...)
	if err != nil {
		return nil, err
	}
	x := &streamsReadClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Streams_SubscribeClient receives the frames of a subscription.
type Streams_SubscribeClient interface {
	Recv() (*SubscribeFrame, error)
	grpc.ClientStream
}

type streamsSubscribeClient struct {
	grpc.ClientStream
}

func (x *streamsSubscribeClient) Recv() (*SubscribeFrame, error) {
	m := new(SubscribeFrame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *streamsClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (Streams_SubscribeClient, error) {
	opts = append(CallOptions(), opts...)
	stream, err := c.cc.NewStream(ctx, &_Streams_serviceDesc.Streams[1], "/esdb.Streams/Subscribe", opts...)
	if err != nil {
		return nil, err
	}
	x := &streamsSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// StreamsServer is the server API for the Streams service.
type StreamsServer interface {
	Read(*ReadRequest, Streams_ReadServer) error
	Subscribe(*SubscribeRequest, Streams_SubscribeServer) error
}

// Streams_ReadServer sends the events of a bounded read.
type Streams_ReadServer interface {
	Send(*RecordedEvent) error
	grpc.ServerStream
}

type streamsReadServer struct {
	grpc.ServerStream
}

func (x *streamsReadServer) Send(m *RecordedEvent) error {
	return x.ServerStream.SendMsg(m)
}

// Streams_SubscribeServer sends the frames of a subscription.
type Streams_SubscribeServer interface {
	Send(*SubscribeFrame) error
	grpc.ServerStream
}

type streamsSubscribeServer struct {
	grpc.ServerStream
}

func (x *streamsSubscribeServer) Send(m *SubscribeFrame) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterStreamsServer registers the server.
func RegisterStreamsServer(s *grpc.Server, srv StreamsServer) {
	s.RegisterService(&_Streams_serviceDesc, srv)
}

var _Streams_serviceDesc = grpc.ServiceDesc{
	ServiceName: "esdb.Streams",
	HandlerType: (*StreamsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Read",
			Handler:       _Streams_Read_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "Subscribe",
			Handler:       _Streams_Subscribe_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "esdb.proto",
}

func _Streams_Read_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(ReadRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StreamsServer).Read(m, &streamsReadServer{stream})
}

func _Streams_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StreamsServer).Subscribe(m, &streamsSubscribeServer{stream})
}
