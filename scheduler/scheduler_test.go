package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNop() *zap.Logger { return zap.NewNop() }

func TestAddTicker_Fires(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddTicker("auto_save", 20*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 3 }, time.Second, 10*time.Millisecond)
}

func TestAddTicker_Replaces(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count1, count2 int32
	s.AddTicker("task", 20*time.Millisecond, func() { atomic.AddInt32(&count1, 1) })
	time.Sleep(30 * time.Millisecond)
	s.AddTicker("task", 20*time.Millisecond, func() { atomic.AddInt32(&count2, 1) })
	time.Sleep(80 * time.Millisecond)

	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old ticker must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
}

func TestAddDelay_FiresOnce(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddDelay("once", 30*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})
	assert.True(t, s.Pending("once"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
	assert.False(t, s.Pending("once"))
}

func TestAddDelay_ReplacesCancelsOld(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddDelay("d", 500*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	s.AddDelay("d", 30*time.Millisecond, func() { atomic.AddInt32(&count, 10) })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestAddDelay_ReplacementSurvivesOldFiring(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	fired := make(chan struct{})
	s.AddDelay("d", 0, func() {})
	s.AddDelay("d", time.Hour, func() { close(fired) })
	time.Sleep(30 * time.Millisecond)

	assert.True(t, s.Pending("d"), "replacement must stay registered")
}

func TestRemove_Ticker(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddTicker("task", 20*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	time.Sleep(50 * time.Millisecond)
	s.Remove("task")
	snap := atomic.LoadInt32(&count)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&count), "ticker must stop after Remove")
}

func TestRemove_Delay(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddDelay("d", 100*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	s.Remove("d")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
	assert.Empty(t, s.ListDelays())
}

func TestRemove_NonExistent(t *testing.T) {
	s := New(newNop())
	defer s.Stop()
	s.Remove("nope")
}

func TestStop_StopsTickersAndDelays(t *testing.T) {
	s := New(newNop())

	var ticks, delays int32
	s.AddTicker("a", 20*time.Millisecond, func() { atomic.AddInt32(&ticks, 1) })
	s.AddDelay("late", 80*time.Millisecond, func() { atomic.AddInt32(&delays, 1) })
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	time.Sleep(30 * time.Millisecond)
	snap := atomic.LoadInt32(&ticks)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, snap, atomic.LoadInt32(&ticks))
	assert.Equal(t, int32(0), atomic.LoadInt32(&delays))
}

func TestStop_Idempotent(t *testing.T) {
	s := New(newNop())
	s.Stop()
	s.Stop()
}

func TestAddAfterStop_Ignored(t *testing.T) {
	s := New(newNop())
	s.Stop()
	s.AddDelay("d", time.Millisecond, func() {})
	s.AddTicker("t", time.Millisecond, func() {})
	assert.Empty(t, s.ListDelays())
	assert.Empty(t, s.ListTickers())
}

func TestListTickers_Sorted(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	require.Empty(t, s.ListTickers())
	s.AddTicker("beta", time.Hour, func() {})
	s.AddTicker("alpha", time.Hour, func() {})
	assert.Equal(t, []string{"alpha", "beta"}, s.ListTickers())

	s.Remove("alpha")
	assert.Equal(t, []string{"beta"}, s.ListTickers())
}

func TestListDelays(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	s.AddDelay("stage:b", time.Hour, func() {})
	s.AddDelay("stage:a", time.Hour, func() {})
	assert.Equal(t, []string{"stage:a", "stage:b"}, s.ListDelays())
}

func TestDelay_PanicRecovery(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var after int32
	s.AddDelay("panic", time.Millisecond, func() { panic("oops") })
	s.AddDelay("after", 20*time.Millisecond, func() { atomic.StoreInt32(&after, 1) })
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&after) == 1 }, time.Second, 5*time.Millisecond)
}
