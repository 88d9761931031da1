package transport

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Sentinel errors classifying connection faults.
var (
	// ErrTransport covers I/O and handshake failures. Retried with
	// backoff, never fatal by itself.
	ErrTransport = errors.New("transport failure")

	// ErrProtocol covers malformed frames and protocol violations.
	// Retried like ErrTransport, but repeated occurrences degrade
	// trust in the offending node during topology ranking.
	ErrProtocol = errors.New("protocol violation")
)

// Classify wraps err as ErrTransport or ErrProtocol so callers can
// route it through the retry policy. Errors already carrying one of
// the sentinels pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocol) {
		return err
	}
	if errors.Is(err, wire.ErrMalformedFrame) ||
		errors.Is(err, wire.ErrUnknownFrameType) ||
		errors.Is(err, wire.ErrVersionMismatch) {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Internal, codes.Unimplemented, codes.InvalidArgument, codes.DataLoss:
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// IsProtocol reports whether err is a protocol-class fault.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}
