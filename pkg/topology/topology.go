// Package topology discovers and ranks the members of the database
// cluster. A Resolver fans out gossip queries across the seed list,
// merges the answers into a deduplicated, leader-first ranking and
// publishes it as an immutable snapshot consumed by the connection
// manager. Nothing outside this package mutates topology state.
package topology

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Member is one known cluster node together with the local
// observations used for ranking.
type Member struct {
	Host     string
	Port     int
	Role     wire.Role
	Epoch    uint64
	Alive    bool
	LastSeen time.Time

	// Latency is the round-trip of the gossip query that reported
	// this member. Members only known second-hand inherit the
	// reporting seed's latency.
	Latency time.Duration
}

// Addr returns the member's dialable address.
func (m Member) Addr() string {
	return wire.MemberInfo{Host: m.Host, Port: m.Port}.Addr()
}

// Topology is an immutable ranked view of the cluster.
type Topology struct {
	// Members are ranked leader first, then followers, then
	// read-only replicas, ties broken by latency.
	Members []Member

	// Epoch is the highest membership epoch observed.
	Epoch uint64

	// ObservedAt is when this view was assembled.
	ObservedAt time.Time
}

// Candidates returns the dial order for connection attempts: ranked
// alive members, leader first. With leaderOnly set, members that are
// not the leader are excluded.
func (t Topology) Candidates(leaderOnly bool) []string {
	var addrs []string
	for _, m := range t.Members {
		if !m.Alive {
			continue
		}
		if leaderOnly && m.Role != wire.RoleLeader {
			continue
		}
		addrs = append(addrs, m.Addr())
	}
	return addrs
}

// Leader returns the current leader, if any.
func (t Topology) Leader() (Member, bool) {
	for _, m := range t.Members {
		if m.Role == wire.RoleLeader && m.Alive {
			return m, true
		}
	}
	return Member{}, false
}

// RoleOf returns the role of the member at addr.
func (t Topology) RoleOf(addr string) wire.Role {
	for _, m := range t.Members {
		if m.Addr() == addr {
			return m.Role
		}
	}
	return wire.RoleUnknown
}

// faultThreshold is how many protocol faults demote a node to the back
// of the ranking.
const faultThreshold = 3

// Config configures a Resolver.
type Config struct {
	// Seeds are the endpoints queried every refresh cycle.
	Seeds []string

	// Source answers gossip queries. Required.
	Source Source

	// QueryTimeout bounds each seed query. Default: 3s.
	QueryTimeout time.Duration

	// RefreshInterval is the cadence of the background refresh loop.
	// Default: 5s.
	RefreshInterval time.Duration

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Resolver maintains the last known topology.
type Resolver struct {
	cfg *Config
	log *slog.Logger

	mu      sync.RWMutex
	current Topology
	faults  map[string]int // addr -> protocol fault count

	updates chan Topology
}

// NewResolver creates a Resolver. The initial topology is empty until
// the first Refresh.
func NewResolver(cfg *Config) *Resolver {
	out := *cfg
	if out.QueryTimeout == 0 {
		out.QueryTimeout = 3 * time.Second
	}
	if out.RefreshInterval == 0 {
		out.RefreshInterval = 5 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &Resolver{
		cfg:     &out,
		log:     out.Logger,
		faults:  make(map[string]int),
		updates: make(chan Topology, 1),
	}
}

// Current returns the last known topology. May be empty before the
// first successful refresh.
func (r *Resolver) Current() Topology {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Updates delivers each refreshed topology, coalescing to the latest
// when the receiver lags.
func (r *Resolver) Updates() <-chan Topology {
	return r.updates
}

// ReportProtocolFault records a protocol violation by the node at
// addr. Nodes at or beyond the fault threshold rank behind all
// well-behaved nodes.
func (r *Resolver) ReportProtocolFault(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[addr]++
}

type seedAnswer struct {
	seed    string
	info    *wire.ClusterInfo
	latency time.Duration
	err     error
}

// Refresh queries every seed concurrently and publishes the merged
// ranking. If all seeds fail the previous topology is kept and the
// last error is returned; Refresh never blocks past the query timeout.
func (r *Resolver) Refresh(ctx context.Context) (Topology, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	answers := make(chan seedAnswer, len(r.cfg.Seeds))
	for _, seed := range r.cfg.Seeds {
		go func(seed string) {
			start := time.Now()
			info, err := r.cfg.Source.Query(ctx, seed)
			answers <- seedAnswer{seed: seed, info: info, latency: time.Since(start), err: err}
		}(seed)
	}

	var (
		responses []seedAnswer
		lastErr   error
	)
	for range r.cfg.Seeds {
		a := <-answers
		if a.err != nil {
			r.log.Debug("seed query failed", "seed", a.seed, "error", a.err)
			lastErr = a.err
			continue
		}
		responses = append(responses, a)
	}

	if len(responses) == 0 {
		return r.Current(), lastErr
	}

	topo := r.merge(responses)
	r.publish(topo)
	return topo, nil
}

// Run refreshes on the configured cadence until ctx is done.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.log.Warn("topology refresh failed", "error", err)
			}
		}
	}
}

func (r *Resolver) publish(topo Topology) {
	r.mu.Lock()
	r.current = topo
	r.mu.Unlock()

	// Coalesce: drop the stale pending update, keep the latest.
	select {
	case r.updates <- topo:
	default:
		select {
		case <-r.updates:
		default:
		}
		select {
		case r.updates <- topo:
		default:
		}
	}
}

// merge folds seed answers into a deduplicated ranked topology.
// Members reported with an epoch below the highest observed one are
// discarded as stale.
func (r *Resolver) merge(responses []seedAnswer) Topology {
	var maxEpoch uint64
	for _, resp := range responses {
		if resp.info.Epoch > maxEpoch {
			maxEpoch = resp.info.Epoch
		}
	}

	byAddr := make(map[string]Member)
	for _, resp := range responses {
		for _, mi := range resp.info.Members {
			if mi.Epoch < maxEpoch {
				continue
			}
			m := Member{
				Host:     mi.Host,
				Port:     mi.Port,
				Role:     mi.Role,
				Epoch:    mi.Epoch,
				Alive:    mi.Alive,
				LastSeen: mi.LastSeen,
				Latency:  resp.latency,
			}
			prev, seen := byAddr[m.Addr()]
			if seen {
				// Keep the lowest-latency observation, but never
				// lose a fresher LastSeen or a leader claim.
				if prev.Latency < m.Latency {
					m.Latency = prev.Latency
				}
				if prev.LastSeen.After(m.LastSeen) {
					m.LastSeen = prev.LastSeen
					m.Role = prev.Role
					m.Alive = prev.Alive
				}
			}
			byAddr[m.Addr()] = m
		}
	}

	members := make([]Member, 0, len(byAddr))
	for _, m := range byAddr {
		members = append(members, m)
	}

	enforceSingleLeader(members)

	r.mu.RLock()
	faults := make(map[string]int, len(r.faults))
	for addr, n := range r.faults {
		faults[addr] = n
	}
	r.mu.RUnlock()

	rank(members, faults)

	return Topology{
		Members:    members,
		Epoch:      maxEpoch,
		ObservedAt: time.Now(),
	}
}

// enforceSingleLeader keeps the most recently seen leader claim and
// demotes the rest to unknown.
func enforceSingleLeader(members []Member) {
	best := -1
	for i, m := range members {
		if m.Role != wire.RoleLeader {
			continue
		}
		if best == -1 || m.LastSeen.After(members[best].LastSeen) {
			best = i
		}
	}
	for i := range members {
		if members[i].Role == wire.RoleLeader && i != best {
			members[i].Role = wire.RoleUnknown
		}
	}
}

// rank orders members leader-first, then followers, then read-only
// replicas, ties broken by latency and then address so the ranking is
// stable under permutation of the input.
func rank(members []Member, faults map[string]int) {
	sort.SliceStable(members, func(i, j int) bool {
		ri, rj := rankClass(members[i], faults), rankClass(members[j], faults)
		if ri != rj {
			return ri < rj
		}
		if members[i].Latency != members[j].Latency {
			return members[i].Latency < members[j].Latency
		}
		return members[i].Addr() < members[j].Addr()
	})
}

func rankClass(m Member, faults map[string]int) int {
	class := 3
	switch m.Role {
	case wire.RoleLeader:
		class = 0
	case wire.RoleFollower:
		class = 1
	case wire.RoleReadOnlyReplica:
		class = 2
	}
	if faults[m.Addr()] >= faultThreshold {
		class += 10
	}
	return class
}
