package bridge

import (
	"sync"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []can.Frame
	err    error
}

func (s *recordingSink) SendFrame(fr can.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, fr)
	return nil
}

func (s *recordingSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *recordingSink) sent() []can.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]can.Frame(nil), s.frames...)
}

// manualTimer fires only when the test says so.
type manualTimer struct {
	mu      sync.Mutex
	tick    func()
	period  time.Duration
	running bool
	starts  int
}

func (m *manualTimer) Start(period time.Duration, tick func()) {
	m.mu.Lock()
	m.tick, m.period, m.running = tick, period, true
	m.starts++
	m.mu.Unlock()
}

func (m *manualTimer) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *manualTimer) Fire() {
	m.mu.Lock()
	fn, run := m.tick, m.running
	m.mu.Unlock()
	if run && fn != nil {
		fn()
	}
}

func (m *manualTimer) current() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

func (m *manualTimer) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

type notifySink struct {
	mu  sync.Mutex
	out [][]byte
}

func (n *notifySink) Send(b []byte) error {
	n.mu.Lock()
	n.out = append(n.out, append([]byte(nil), b...))
	n.mu.Unlock()
	return nil
}

func (n *notifySink) all() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.out...)
}

func newTestDispatcher(antiReplay bool) (*Dispatcher, *recordingSink, *manualTimer, *Sequence) {
	sink := &recordingSink{}
	tm := &manualTimer{}
	seq := &Sequence{}
	sched := NewScheduler(sink, tm, seq, antiReplay)
	return NewDispatcher(sink, sched, seq, antiReplay), sink, tm, seq
}
