package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	require.NotNil(t, codec)

	in := &SubscribeFrame{
		Type:  FrameEvent,
		Event: &RecordedEvent{Stream: "orders", Revision: 7, EventType: "OrderPlaced"},
	}
	data, err := codec.Marshal(in)
	require.NoError(t, err)

	var out SubscribeFrame
	require.NoError(t, codec.Unmarshal(data, &out))
	require.NotNil(t, out.Event)
	assert.Equal(t, uint64(7), out.Event.Revision)
	assert.Equal(t, "orders", out.Event.Stream)
}

func TestPositionBefore(t *testing.T) {
	assert.True(t, Position{Commit: 1, Prepare: 9}.Before(Position{Commit: 2, Prepare: 0}))
	assert.True(t, Position{Commit: 2, Prepare: 1}.Before(Position{Commit: 2, Prepare: 2}))
	assert.False(t, Position{Commit: 2, Prepare: 2}.Before(Position{Commit: 2, Prepare: 2}))
	assert.False(t, Position{Commit: 3, Prepare: 0}.Before(Position{Commit: 2, Prepare: 9}))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleLeader, ParseRole("leader"))
	assert.Equal(t, RoleFollower, ParseRole("follower"))
	assert.Equal(t, RoleReadOnlyReplica, ParseRole("readonlyreplica"))
	assert.Equal(t, RoleUnknown, ParseRole("clone"))
}

func TestMemberInfoAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:2113", MemberInfo{Host: "10.0.0.1", Port: 2113}.Addr())
	assert.Equal(t, "[::1]:2113", MemberInfo{Host: "::1", Port: 2113}.Addr())
}
