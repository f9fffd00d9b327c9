package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickLog struct {
	mu      sync.Mutex
	ticks   []int
	expired int
}

func (l *tickLog) onTick(r int) {
	l.mu.Lock()
	l.ticks = append(l.ticks, r)
	l.mu.Unlock()
}

func (l *tickLog) onExpire() {
	l.mu.Lock()
	l.expired++
	l.mu.Unlock()
}

func (l *tickLog) snapshot() ([]int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.ticks...), l.expired
}

func TestClock_CountsDownAndExpiresOnce(t *testing.T) {
	ts := newTickers()
	c := NewClock(ts.New)
	var log tickLog

	require.NoError(t, c.Start(3, log.onTick, log.onExpire))
	mt := ts.get(t, time.Second)
	for i := 0; i < 3; i++ {
		mt.fire(t)
	}

	require.Eventually(t, func() bool {
		_, expired := log.snapshot()
		return expired == 1
	}, time.Second, time.Millisecond)

	ticks, _ := log.snapshot()
	assert.Equal(t, []int{2, 1, 0}, ticks)
	assert.Zero(t, c.Remaining())
	assert.Eventually(t, mt.stopped.Load, time.Second, time.Millisecond)
}

func TestClock_PauseFreezesRemaining(t *testing.T) {
	ts := newTickers()
	c := NewClock(ts.New)
	var log tickLog

	require.NoError(t, c.Start(10, log.onTick, log.onExpire))
	mt := ts.get(t, time.Second)

	c.Pause()
	assert.True(t, c.Paused())
	mt.fire(t)
	mt.fire(t)
	assert.Equal(t, 10, c.Remaining())

	c.Resume()
	mt.fire(t)
	require.Eventually(t, func() bool { return c.Remaining() == 9 }, time.Second, time.Millisecond)

	ticks, _ := log.snapshot()
	assert.Equal(t, []int{9}, ticks)
}

func TestClock_StartValidation(t *testing.T) {
	c := NewClock(newTickers().New)
	assert.ErrorIs(t, c.Start(0, nil, nil), ErrInvalidDuration)
	assert.ErrorIs(t, c.Start(-5, nil, nil), ErrInvalidDuration)

	require.NoError(t, c.Start(5, nil, nil))
	assert.ErrorIs(t, c.Start(5, nil, nil), ErrClockStarted)
	c.Stop()
	c.Stop()
}

func TestClock_StopPreventsExpiry(t *testing.T) {
	ts := newTickers()
	c := NewClock(ts.New)
	var log tickLog

	require.NoError(t, c.Start(1, log.onTick, log.onExpire))
	mt := ts.get(t, time.Second)
	c.Stop()

	assert.Eventually(t, mt.stopped.Load, time.Second, time.Millisecond)
	_, expired := log.snapshot()
	assert.Zero(t, expired)
}
