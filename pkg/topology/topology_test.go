package topology

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EventStore/esdb-tui/pkg/wire"
)

func member(host string, port int, role wire.Role, epoch uint64) wire.MemberInfo {
	return wire.MemberInfo{
		Host: host, Port: port, Role: role,
		Epoch: epoch, Alive: true, LastSeen: time.Now(),
	}
}

// mapSource answers each seed from a fixed table.
func mapSource(answers map[string]*wire.ClusterInfo) Source {
	return SourceFunc(func(_ context.Context, seed string) (*wire.ClusterInfo, error) {
		info, ok := answers[seed]
		if !ok {
			return nil, errors.New("seed unreachable")
		}
		return info, nil
	})
}

func newTestResolver(t *testing.T, seeds []string, src Source) *Resolver {
	t.Helper()
	return NewResolver(&Config{
		Seeds:        seeds,
		Source:       src,
		QueryTimeout: time.Second,
	})
}

func TestRefreshRanksLeaderFirst(t *testing.T) {
	info := &wire.ClusterInfo{
		Members: []wire.MemberInfo{
			member("10.0.0.2", 2113, wire.RoleFollower, 3),
			member("10.0.0.1", 2113, wire.RoleLeader, 3),
			member("10.0.0.3", 2113, wire.RoleReadOnlyReplica, 3),
		},
		Epoch: 3,
	}
	r := newTestResolver(t, []string{"seed"}, mapSource(map[string]*wire.ClusterInfo{"seed": info}))

	topo, err := r.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, topo.Members, 3)
	assert.Equal(t, wire.RoleLeader, topo.Members[0].Role)
	assert.Equal(t, wire.RoleFollower, topo.Members[1].Role)
	assert.Equal(t, wire.RoleReadOnlyReplica, topo.Members[2].Role)
	assert.Equal(t, uint64(3), topo.Epoch)
}

func TestRankingStableUnderPermutation(t *testing.T) {
	members := []wire.MemberInfo{
		member("10.0.0.1", 2113, wire.RoleFollower, 1),
		member("10.0.0.2", 2113, wire.RoleFollower, 1),
		member("10.0.0.3", 2113, wire.RoleFollower, 1),
		member("10.0.0.4", 2113, wire.RoleLeader, 1),
	}

	var want []string
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]wire.MemberInfo(nil), members...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		r := newTestResolver(t, []string{"seed"}, mapSource(map[string]*wire.ClusterInfo{
			"seed": {Members: shuffled, Epoch: 1},
		}))
		topo, err := r.Refresh(context.Background())
		require.NoError(t, err)

		got := topo.Candidates(false)
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, want, got, "ranking must not depend on input order")
	}
}

func TestMergeDiscardsStaleEpoch(t *testing.T) {
	fresh := &wire.ClusterInfo{
		Members: []wire.MemberInfo{member("10.0.0.1", 2113, wire.RoleLeader, 5)},
		Epoch:   5,
	}
	stale := &wire.ClusterInfo{
		Members: []wire.MemberInfo{member("10.0.0.9", 2113, wire.RoleLeader, 4)},
		Epoch:   4,
	}
	r := newTestResolver(t, []string{"a", "b"}, mapSource(map[string]*wire.ClusterInfo{
		"a": fresh,
		"b": stale,
	}))

	topo, err := r.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, topo.Members, 1)
	assert.Equal(t, "10.0.0.1:2113", topo.Members[0].Addr())
	assert.Equal(t, uint64(5), topo.Epoch)
}

func TestMergeEnforcesSingleLeader(t *testing.T) {
	now := time.Now()
	older := member("10.0.0.1", 2113, wire.RoleLeader, 2)
	older.LastSeen = now.Add(-time.Minute)
	newer := member("10.0.0.2", 2113, wire.RoleLeader, 2)
	newer.LastSeen = now

	r := newTestResolver(t, []string{"a", "b"}, mapSource(map[string]*wire.ClusterInfo{
		"a": {Members: []wire.MemberInfo{older}, Epoch: 2},
		"b": {Members: []wire.MemberInfo{newer}, Epoch: 2},
	}))

	topo, err := r.Refresh(context.Background())
	require.NoError(t, err)

	leader, ok := topo.Leader()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:2113", leader.Addr())
	assert.Equal(t, wire.RoleUnknown, topo.RoleOf("10.0.0.1:2113"), "the older claim is demoted")
}

func TestRefreshKeepsPreviousTopologyOnTotalFailure(t *testing.T) {
	info := &wire.ClusterInfo{
		Members: []wire.MemberInfo{member("10.0.0.1", 2113, wire.RoleLeader, 1)},
		Epoch:   1,
	}
	answers := map[string]*wire.ClusterInfo{"seed": info}
	r := newTestResolver(t, []string{"seed"}, mapSource(answers))

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)

	delete(answers, "seed")
	topo, err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.Len(t, topo.Members, 1, "last known topology survives a failed refresh")
	assert.Len(t, r.Current().Members, 1)
}

func TestProtocolFaultsDemoteNode(t *testing.T) {
	info := &wire.ClusterInfo{
		Members: []wire.MemberInfo{
			member("10.0.0.1", 2113, wire.RoleLeader, 1),
			member("10.0.0.2", 2113, wire.RoleFollower, 1),
		},
		Epoch: 1,
	}
	r := newTestResolver(t, []string{"seed"}, mapSource(map[string]*wire.ClusterInfo{"seed": info}))

	for i := 0; i < 3; i++ {
		r.ReportProtocolFault("10.0.0.1:2113")
	}

	topo, err := r.Refresh(context.Background())
	require.NoError(t, err)

	candidates := topo.Candidates(false)
	require.Len(t, candidates, 2)
	assert.Equal(t, "10.0.0.2:2113", candidates[0], "a misbehaving leader ranks behind healthy nodes")
}

func TestUpdatesCoalesceToLatest(t *testing.T) {
	answers := map[string]*wire.ClusterInfo{
		"seed": {Members: []wire.MemberInfo{member("10.0.0.1", 2113, wire.RoleLeader, 1)}, Epoch: 1},
	}
	r := newTestResolver(t, []string{"seed"}, mapSource(answers))

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)

	answers["seed"] = &wire.ClusterInfo{
		Members: []wire.MemberInfo{member("10.0.0.1", 2113, wire.RoleLeader, 2)},
		Epoch:   2,
	}
	_, err = r.Refresh(context.Background())
	require.NoError(t, err)

	select {
	case topo := <-r.Updates():
		assert.Equal(t, uint64(2), topo.Epoch, "lagging receiver sees only the latest")
	default:
		t.Fatal("expected a pending update")
	}
}
