// Package replay detects replayed bus frames from their trailing sequence byte.
package replay

import "sync"

// Verdict is the outcome of checking one frame.
type Verdict uint8

const (
	Clean Verdict = iota
	SuspectedReplay
)

func (v Verdict) String() string {
	if v == SuspectedReplay {
		return "suspected_replay"
	}
	return "clean"
}

// Guard tracks the most recently seen identifier and its last sequence byte.
// Only one identifier is tracked: interleaved streams reset each other.
type Guard struct {
	mu          sync.Mutex
	haveID      bool
	lastID      uint32
	lastCounter byte
	attack      bool
}

// Check classifies a frame. A new identifier starts a new stream and is
// always clean. On the same identifier a zero counter delta (mod 256) is a
// suspected replay. The counter is stored regardless of the verdict.
func (g *Guard) Check(id uint32, counter byte) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := Clean
	if g.haveID && id == g.lastID {
		if counter-g.lastCounter == 0 {
			v = SuspectedReplay
			g.attack = true
		}
	} else {
		g.haveID = true
		g.lastID = id
	}
	g.lastCounter = counter
	return v
}

// TakeFlag returns the sticky attack flag and clears it.
func (g *Guard) TakeFlag() bool {
	g.mu.Lock()
	f := g.attack
	g.attack = false
	g.mu.Unlock()
	return f
}

// Reset forgets the tracked stream and clears the flag.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.haveID, g.lastID, g.lastCounter, g.attack = false, 0, 0, false
	g.mu.Unlock()
}
