package bridge

import (
	"sync"
	"time"
)

// Timer delivers periodic ticks to the repeat scheduler.
type Timer interface {
	// Start (re)starts the timer; tick runs on the timer's goroutine once
	// per period, the first time one period after Start.
	Start(period time.Duration, tick func())
	// Stop halts the timer. It does not wait for a tick in progress.
	Stop()
}

// TickerTimer is a Timer backed by time.Ticker.
type TickerTimer struct {
	mu   sync.Mutex
	done chan struct{}
}

// NewTickerTimer returns a stopped TickerTimer.
func NewTickerTimer() *TickerTimer { return &TickerTimer{} }

func (t *TickerTimer) Start(period time.Duration, tick func()) {
	if period <= 0 {
		period = time.Millisecond
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	done := make(chan struct{})
	t.done = done
	go func() {
		tk := time.NewTicker(period)
		defer tk.Stop()
		for {
			select {
			case <-done:
				return
			case <-tk.C:
				select {
				case <-done:
					return
				default:
				}
				tick()
			}
		}
	}()
}

func (t *TickerTimer) Stop() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

func (t *TickerTimer) stopLocked() {
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}
