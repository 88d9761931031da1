package topology

import (
	"context"

	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Source answers a gossip query against one seed endpoint.
type Source interface {
	Query(ctx context.Context, seed string) (*wire.ClusterInfo, error)
}

// wireSource queries each seed's gossip service over a short-lived
// authenticated connection.
type wireSource struct {
	cfg *transport.Config
}

// NewWireSource creates a Source backed by the database's gossip RPC.
func NewWireSource(cfg *transport.Config) Source {
	return &wireSource{cfg: cfg}
}

func (s *wireSource) Query(ctx context.Context, seed string) (*wire.ClusterInfo, error) {
	conn, err := transport.Dial(ctx, seed, s.cfg)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.Gossip(ctx)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, seed string) (*wire.ClusterInfo, error)

func (f SourceFunc) Query(ctx context.Context, seed string) (*wire.ClusterInfo, error) {
	return f(ctx, seed)
}
