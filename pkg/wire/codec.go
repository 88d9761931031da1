package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype used for msgpack-encoded
// message bodies.
const CodecName = "msgpack"

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

// msgpackCodec implements grpc encoding.Codec over msgpack.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %T: %v", ErrMalformedFrame, v, err)
	}
	return data, nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: unmarshal %T: %v", ErrMalformedFrame, v, err)
	}
	return nil
}

func (msgpackCodec) Name() string { return CodecName }

// CallOptions returns the per-call options every client stub must use
// so the wire's msgpack codec is negotiated instead of protobuf.
func CallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}
