// Package wire defines the client/server boundary of the database's
// streaming RPC protocol: message types, the msgpack payload codec, and
// hand-written gRPC stubs for the three services every node exposes
// (Gossip, Streams, Operations) plus the authentication handshake.
//
// Message bodies are msgpack-encoded and travel over gRPC with the
// "msgpack" content subtype. The exact byte layout is owned by the
// database; this package only mirrors it.
package wire

import (
	"net"
	"strconv"
	"time"
)

// Role is a node's declared role in the cluster.
type Role int

const (
	RoleUnknown Role = iota
	RoleLeader
	RoleFollower
	RoleReadOnlyReplica
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	case RoleReadOnlyReplica:
		return "read-only-replica"
	default:
		return "unknown"
	}
}

// ParseRole maps a role name from gossip metadata to a Role.
// Unrecognized names map to RoleUnknown.
func ParseRole(s string) Role {
	switch s {
	case "leader":
		return RoleLeader
	case "follower":
		return RoleFollower
	case "read-only-replica", "readonlyreplica":
		return RoleReadOnlyReplica
	default:
		return RoleUnknown
	}
}

// Position is a location in the database's global transaction log.
// Commit/Prepare are monotonically increasing within one epoch and are
// used for cross-stream ordering in "$all" subscriptions.
type Position struct {
	Commit  uint64 `msgpack:"c"`
	Prepare uint64 `msgpack:"p"`
}

// Before reports whether p is strictly earlier in the log than other.
func (p Position) Before(other Position) bool {
	if p.Commit != other.Commit {
		return p.Commit < other.Commit
	}
	return p.Prepare < other.Prepare
}

// MemberInfo describes one cluster member as reported by a node's
// gossip endpoint.
type MemberInfo struct {
	Host     string    `msgpack:"h"`
	Port     int       `msgpack:"o"`
	Role     Role      `msgpack:"r"`
	Epoch    uint64    `msgpack:"e"`
	Alive    bool      `msgpack:"a"`
	LastSeen time.Time `msgpack:"t"`
}

// Addr returns the member's dialable "host:port" address.
func (m MemberInfo) Addr() string {
	return joinHostPort(m.Host, m.Port)
}

// ClusterInfo is the gossip endpoint's view of the whole cluster.
type ClusterInfo struct {
	Members []MemberInfo `msgpack:"m"`
	Epoch   uint64       `msgpack:"e"`
}

// RecordedEvent is a single event read from a stream.
type RecordedEvent struct {
	Stream    string    `msgpack:"s"`
	Revision  uint64    `msgpack:"r"`
	EventType string    `msgpack:"y"`
	EventID   string    `msgpack:"i"`
	Data      []byte    `msgpack:"d"`
	Metadata  []byte    `msgpack:"m"`
	Position  Position  `msgpack:"p"`
	Created   time.Time `msgpack:"t"`
}

// ProjectionStatus mirrors the statistics block the projections
// subsystem reports for each continuous or transient projection.
type ProjectionStatus struct {
	Name                               string  `msgpack:"n"`
	Status                             string  `msgpack:"s"`
	CheckpointStatus                   string  `msgpack:"cs"`
	Mode                               string  `msgpack:"m"`
	Progress                           float32 `msgpack:"pr"`
	ReadsInProgress                    int32   `msgpack:"ri"`
	WritesInProgress                   int32   `msgpack:"wi"`
	WritePendingEventsBeforeCheckpoint int32   `msgpack:"wb"`
	WritePendingEventsAfterCheckpoint  int32   `msgpack:"wa"`
	PartitionsCached                   int32   `msgpack:"pc"`
	BufferedEvents                     int64   `msgpack:"be"`
	EventsProcessedAfterRestart        int64   `msgpack:"ep"`
	Position                           string  `msgpack:"po"`
	LastCheckpoint                     string  `msgpack:"lc"`
}

// PersistentSubscriptionInfo mirrors the server's per-group statistics
// for a persistent subscription.
type PersistentSubscriptionInfo struct {
	Stream                   string `msgpack:"s"`
	Group                    string `msgpack:"g"`
	Status                   string `msgpack:"st"`
	ConnectionCount          int64  `msgpack:"cc"`
	InFlightMessages         int64  `msgpack:"if"`
	TotalItemsProcessed      int64  `msgpack:"ti"`
	LastKnownEventRevision   uint64 `msgpack:"lk"`
	LastCheckpointedRevision uint64 `msgpack:"lp"`
	BehindByMessages         int64  `msgpack:"bm"`
	ParkedMessages           int64  `msgpack:"pk"`
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
