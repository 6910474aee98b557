package bridge

import (
	"sync"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

// RepeatState is the scheduler's single repeat entry.
type RepeatState struct {
	Frame   can.Frame
	Period  time.Duration
	Enabled bool
}

// Scheduler retransmits one frame periodically. A new Arm replaces the
// previous entry entirely; Stop disables it and halts the timer.
type Scheduler struct {
	sink  transport.FrameSink
	timer Timer
	seq   *Sequence
	// stamp rewrites the trailing byte with the next sequence value on
	// every tick.
	stamp bool
	drops *dropReporter

	mu    sync.Mutex
	state RepeatState
	gen   uint64
	shut  bool
}

// NewScheduler returns an idle scheduler sending through sink.
func NewScheduler(sink transport.FrameSink, timer Timer, seq *Sequence, stamp bool) *Scheduler {
	if timer == nil {
		timer = NewTickerTimer()
	}
	return &Scheduler{sink: sink, timer: timer, seq: seq, stamp: stamp, drops: newDropReporter()}
}

// Arm stores fr as the repeating frame and restarts the timer with period.
// Nothing is sent until the first tick.
func (s *Scheduler) Arm(fr can.Frame, period time.Duration) {
	s.mu.Lock()
	if s.shut {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.state = RepeatState{Frame: fr, Period: period, Enabled: true}
	s.timer.Stop()
	s.timer.Start(period, func() { s.tick(gen) })
	s.mu.Unlock()
	metrics.SetRepeatArmed(true)
	logging.L().Debug("repeat_armed", "id", fr.ID, "ext", fr.Extended, "period", period)
}

// Stop disables the repeat entry. Calling Stop on an idle scheduler is a
// no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.state.Enabled {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state.Enabled = false
	s.timer.Stop()
	s.mu.Unlock()
	metrics.SetRepeatArmed(false)
	logging.L().Debug("repeat_stopped")
}

// Shutdown stops the scheduler for good; later Arm calls are ignored.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.shut = true
	s.mu.Unlock()
	s.Stop()
}

// Snapshot returns a copy of the current entry.
func (s *Scheduler) Snapshot() RepeatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// tick sends one repetition. Ticks from a replaced or stopped entry are
// ignored. The frame is read and re-stamped under the lock and sent outside
// it.
func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if !s.state.Enabled || gen != s.gen {
		s.mu.Unlock()
		return
	}
	fr := s.state.Frame
	if s.stamp && fr.Len > 0 {
		fr.Data[fr.Len-1] = s.seq.Next()
		s.state.Frame = fr
	}
	s.mu.Unlock()

	metrics.IncRepeatTick()
	if err := s.sink.SendFrame(fr); err != nil {
		s.drops.report("repeat", fr, err)
	}
}
