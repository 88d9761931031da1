package wire

import "errors"

// Sentinel errors for wire decoding and protocol violations.
var (
	// ErrMalformedFrame indicates a message body that could not be
	// decoded. Treated by callers as a protocol fault of the node.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownFrameType indicates a subscription frame with a type
	// tag this client does not recognize.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrVersionMismatch indicates the node speaks an incompatible
	// protocol revision.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrAccessDenied indicates the authentication handshake was
	// rejected by the node.
	ErrAccessDenied = errors.New("access denied")
)
