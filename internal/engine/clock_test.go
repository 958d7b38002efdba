package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fluxo/internal/intercept"
)

func TestClock_StampIncrements(t *testing.T) {
	c := NewClock()

	seq, _ := c.Stamp()
	assert.Equal(t, int64(1), seq)
	seq, _ = c.Stamp()
	assert.Equal(t, int64(2), seq)
}

func TestClock_TimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := []time.Time{base, base.Add(-time.Second), base.Add(time.Second)}
	i := 0
	c := NewClockWithTime(func() time.Time {
		t := readings[i]
		i++
		return t
	})

	_, t1 := c.Stamp()
	_, t2 := c.Stamp()
	_, t3 := c.Stamp()
	assert.Equal(t, base, t1)
	assert.Equal(t, base, t2, "an earlier reading is raised to the last stamp")
	assert.Equal(t, base.Add(time.Second), t3)
}

func TestClock_ConcurrentStampsAreUniqueAndOrdered(t *testing.T) {
	c := NewClock()
	const goroutines = 50
	const perGoroutine = 200

	type stamp struct {
		seq int64
		at  time.Time
	}
	var mu sync.Mutex
	var stamps []stamp

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seq, at := c.Stamp()
				mu.Lock()
				stamps = append(stamps, stamp{seq, at})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	bySeq := make(map[int64]time.Time, len(stamps))
	for _, s := range stamps {
		_, dup := bySeq[s.seq]
		assert.False(t, dup, "seq %d generated twice", s.seq)
		bySeq[s.seq] = s.at
	}
	require.Len(t, bySeq, goroutines*perGoroutine)
	for seq := int64(2); seq <= int64(len(bySeq)); seq++ {
		assert.False(t, bySeq[seq].Before(bySeq[seq-1]), "seq %d stamped before seq %d", seq, seq-1)
	}
}

func TestClock_SharedAcrossStores(t *testing.T) {
	ctx := testContext(t)
	clock := NewClock()
	rec := intercept.NewRecorder()

	a, err := NewReducer[int, int, string](0, sum, WithName("a"), WithClock(clock), WithInterceptors(rec))
	require.NoError(t, err)
	closeStore(t, a)
	b, err := NewReducer[int, int, string](0, sum, WithName("b"), WithClock(clock), WithInterceptors(rec))
	require.NoError(t, err)
	closeStore(t, b)

	require.NoError(t, a.Dispatch(ctx, 1))
	require.NoError(t, b.Dispatch(ctx, 2))
	require.NoError(t, a.Dispatch(ctx, 3))

	events := rec.Events()
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq, "one clock gives one dense order over both stores")
		if i > 0 {
			assert.False(t, e.Timestamp.Before(events[i-1].Timestamp))
		}
	}
}
