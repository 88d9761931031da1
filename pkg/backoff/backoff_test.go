package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextGrowsToCap(t *testing.T) {
	b := New(Policy{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2})

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 800*time.Millisecond, b.Next())
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next(), "stays at the cap")
}

func TestReset(t *testing.T) {
	b := New(Policy{Min: 50 * time.Millisecond, Max: time.Second, Factor: 2})
	b.Next()
	b.Next()
	require.Equal(t, 2, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, 50*time.Millisecond, b.Next())
}

func TestJitterStaysWithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		b := New(Default(time.Second))
		b.Next()
		d := b.Next()
		assert.GreaterOrEqual(t, d, 160*time.Millisecond, "at most 20%% shaved off")
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	b := New(Policy{Min: time.Minute, Max: time.Minute, Factor: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Sleep(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
