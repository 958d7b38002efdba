package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fluxo/internal/engine"
)

func TestDeterministicOptions(t *testing.T) {
	run := func() []string {
		var s engine.Settings
		for _, opt := range Deterministic("") {
			opt(&s)
		}
		require.NotNil(t, s.IDGenerator)
		require.NotNil(t, s.Clock)
		require.NotNil(t, s.Logger)

		seq, at := s.Clock.Stamp()
		assert.Equal(t, int64(1), seq)
		assert.Equal(t, Epoch, at)
		_, at = s.Clock.Stamp()
		assert.Equal(t, Epoch.Add(time.Millisecond), at)

		return []string{s.IDGenerator.Generate(), s.IDGenerator.Generate()}
	}

	first := run()
	assert.Equal(t, []string{"req-1", "req-2"}, first)
	assert.Equal(t, first, run(), "every call starts a fresh sequence")
}

func TestSteppedTime(t *testing.T) {
	now := SteppedTime(Epoch, time.Second)
	assert.Equal(t, Epoch, now())
	assert.Equal(t, Epoch.Add(time.Second), now())
	assert.Equal(t, Epoch.Add(2*time.Second), now())
}

func TestCollector(t *testing.T) {
	ch := make(chan int)
	c := Collect(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		for i := 1; i <= 3; i++ {
			ch <- i
		}
		close(ch)
	}()

	require.True(t, c.WaitFor(ctx, 3))
	<-c.Closed()
	assert.Equal(t, []int{1, 2, 3}, c.Items())
	assert.False(t, c.WaitFor(ctx, 4), "closed source cannot satisfy more")
}

func TestPoll(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var n atomic.Int32
	assert.True(t, Poll(ctx, time.Millisecond, func() bool { return n.Add(1) >= 3 }))

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	assert.False(t, Poll(short, time.Millisecond, func() bool { return false }))
}
