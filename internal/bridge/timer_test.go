package bridge

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTickerTimer_StartStop(t *testing.T) {
	tm := NewTickerTimer()
	var n atomic.Int32
	tm.Start(2*time.Millisecond, func() { n.Add(1) })
	require.True(t, tm.running())
	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)

	tm.Stop()
	tm.Stop()
	require.False(t, tm.running())
	time.Sleep(10 * time.Millisecond)
	settled := n.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, settled, n.Load())
}

func TestTickerTimer_RestartReplacesTick(t *testing.T) {
	tm := NewTickerTimer()
	defer tm.Stop()
	var first, second atomic.Int32
	tm.Start(time.Millisecond, func() { first.Add(1) })
	tm.Start(time.Millisecond, func() { second.Add(1) })
	require.Eventually(t, func() bool { return second.Load() >= 2 }, time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	settled := first.Load()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, settled, first.Load())
}

func (t *TickerTimer) running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}
