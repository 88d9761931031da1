package topology

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/EventStore/esdb-tui/pkg/wire"
)

// nodeMeta is the msgpack blob cluster nodes publish in their
// memberlist metadata. Observer entries are this tool and other
// clients riding the mesh; they are never connection candidates.
type nodeMeta struct {
	Observer bool   `msgpack:"ob,omitempty"`
	Role     string `msgpack:"r,omitempty"`
	Epoch    uint64 `msgpack:"e,omitempty"`
	APIPort  int    `msgpack:"p,omitempty"`
}

// MemberlistConfig configures the gossip-mesh topology source.
type MemberlistConfig struct {
	// NodeName uniquely identifies this observer in the mesh.
	// Defaults to "<hostname>-tui".
	NodeName string

	// BindAddr is the address to bind for gossip. Default: "0.0.0.0".
	BindAddr string

	// BindPort is the port for the gossip protocol. 0 picks an
	// ephemeral port.
	BindPort int

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// MemberlistSource discovers topology by joining the cluster's own
// gossip mesh as a passive observer and reading member roles from
// node metadata, instead of querying the gossip RPC seed by seed.
type MemberlistSource struct {
	cfg *MemberlistConfig
	log *slog.Logger

	mu     sync.Mutex
	ml     *memberlist.Memberlist
	joined bool
}

// NewMemberlistSource creates the source. The mesh is joined lazily on
// the first Query.
func NewMemberlistSource(cfg *MemberlistConfig) *MemberlistSource {
	if cfg == nil {
		cfg = &MemberlistConfig{}
	}
	if cfg.NodeName == "" {
		hostname, _ := os.Hostname()
		cfg.NodeName = hostname + "-tui"
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "0.0.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MemberlistSource{cfg: cfg, log: cfg.Logger}
}

func (s *MemberlistSource) Query(ctx context.Context, seed string) (*wire.ClusterInfo, error) {
	if err := s.ensureJoined(seed); err != nil {
		return nil, err
	}

	s.mu.Lock()
	nodes := s.ml.Members()
	s.mu.Unlock()

	now := time.Now()
	info := &wire.ClusterInfo{}
	for _, node := range nodes {
		var meta nodeMeta
		if len(node.Meta) > 0 {
			if err := msgpack.Unmarshal(node.Meta, &meta); err != nil {
				s.log.Debug("undecodable mesh metadata", "node", node.Name, "error", err)
				continue
			}
		}
		if meta.Observer {
			continue
		}

		port := meta.APIPort
		if port == 0 {
			port = int(node.Port)
		}
		info.Members = append(info.Members, wire.MemberInfo{
			Host:     node.Addr.String(),
			Port:     port,
			Role:     wire.ParseRole(meta.Role),
			Epoch:    meta.Epoch,
			Alive:    true,
			LastSeen: now,
		})
		if meta.Epoch > info.Epoch {
			info.Epoch = meta.Epoch
		}
	}
	return info, nil
}

func (s *MemberlistSource) ensureJoined(seed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ml == nil {
		mlCfg := memberlist.DefaultLANConfig()
		mlCfg.Name = s.cfg.NodeName
		mlCfg.BindAddr = s.cfg.BindAddr
		mlCfg.BindPort = s.cfg.BindPort
		mlCfg.Delegate = observerDelegate{}

		ml, err := memberlist.Create(mlCfg)
		if err != nil {
			return fmt.Errorf("memberlist create: %w", err)
		}
		s.ml = ml
	}

	if !s.joined {
		if _, err := s.ml.Join([]string{seed}); err != nil {
			return fmt.Errorf("memberlist join %s: %w", seed, err)
		}
		s.joined = true
		s.log.Info("joined cluster gossip mesh", "seed", seed, "node", s.cfg.NodeName)
	}
	return nil
}

// Close leaves the mesh.
func (s *MemberlistSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ml == nil {
		return nil
	}
	s.ml.Leave(5 * time.Second)
	err := s.ml.Shutdown()
	s.ml = nil
	s.joined = false
	return err
}

// observerDelegate publishes observer metadata and ignores the state
// exchange; this client only reads the mesh.
type observerDelegate struct{}

func (observerDelegate) NodeMeta(limit int) []byte {
	meta, _ := msgpack.Marshal(nodeMeta{Observer: true})
	if len(meta) > limit {
		return nil
	}
	return meta
}

func (observerDelegate) NotifyMsg([]byte)                {}
func (observerDelegate) GetBroadcasts(int, int) [][]byte { return nil }
func (observerDelegate) LocalState(bool) []byte          { return nil }
func (observerDelegate) MergeRemoteState([]byte, bool)   {}

var _ Source = (*MemberlistSource)(nil)
var _ memberlist.Delegate = observerDelegate{}
