package bridge

import "sync/atomic"

// Sequence is the outbound sequence byte shared by the single-shot and
// repeat transmit paths. It wraps at 256.
type Sequence struct {
	v atomic.Uint32
}

// Next returns the current value and advances the counter in one atomic
// step, so concurrent callers never observe the same value (within a
// 256-value window).
func (s *Sequence) Next() byte { return byte(s.v.Add(1) - 1) }

// Value returns the value the next call to Next will hand out.
func (s *Sequence) Value() byte { return byte(s.v.Load()) }

// Store sets the next value.
func (s *Sequence) Store(b byte) { s.v.Store(uint32(b)) }
