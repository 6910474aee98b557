package bus

import (
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-bridge/internal/bxcan"
	"github.com/kstaniek/go-can-bridge/internal/can"
)

const fifoDepth = 64

// LoopbackBus is an in-memory CAN bus for tests and hardware-less runs.
// Frames travel between endpoints as bxCAN mailbox register images, the same
// layout a controller would consume and produce.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*Endpoint]struct{}
}

// NewLoopbackBus creates a new loopback bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*Endpoint]struct{})}
}

// Open attaches a new endpoint. With echo set the endpoint also receives its
// own transmissions, like a controller in loopback test mode.
func (b *LoopbackBus) Open(echo bool) *Endpoint {
	ep := &Endpoint{
		bus:    b,
		echo:   echo,
		fifo:   make(chan bxcan.Mailbox, fifoDepth),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ep.dead = true
		close(ep.closed)
		close(ep.fifo)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

// Close closes the bus and detaches all endpoints.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.closeNoLock()
	}
	b.endpoints = nil
	b.mu.Unlock()
	return nil
}

// Endpoint is one controller attached to a LoopbackBus. It implements Device.
type Endpoint struct {
	bus      *LoopbackBus
	echo     bool
	fifo     chan bxcan.Mailbox
	mu       sync.Mutex
	dead     bool
	closed   chan struct{}
	busOff   atomic.Bool
	overruns atomic.Uint64
}

var _ Device = (*Endpoint)(nil)

// SetBusOff forces the bus-off state (tests and fault injection).
func (e *Endpoint) SetBusOff(v bool) { e.busOff.Store(v) }

// BusOff reports the forced bus-off state.
func (e *Endpoint) BusOff() bool { return e.busOff.Load() }

// WriteFrame delivers the frame to every other endpoint (and to itself when
// echo is enabled). A full receive FIFO drops the frame for that endpoint,
// like a controller FIFO overrun.
func (e *Endpoint) WriteFrame(fr can.Frame) error {
	if err := fr.Validate(); err != nil {
		return err
	}
	if e.busOff.Load() {
		return ErrBusOff
	}
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrClosed
	}
	mb := bxcan.Encode(fr)
	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()
	if e.bus.closed {
		return ErrClosed
	}
	for ep := range e.bus.endpoints {
		if ep == e && !e.echo {
			continue
		}
		select {
		case ep.fifo <- mb:
		default:
			ep.overruns.Add(1)
		}
	}
	return nil
}

// Overruns returns how many frames were lost because the receive FIFO was
// full.
func (e *Endpoint) Overruns() uint64 { return e.overruns.Load() }

// ReadFrame waits for the next frame in the receive FIFO.
func (e *Endpoint) ReadFrame(fr *can.Frame) error {
	mb, ok := <-e.fifo
	if !ok {
		return ErrClosed
	}
	*fr = bxcan.Decode(mb)
	return nil
}

// Close detaches the endpoint from the bus and closes its FIFO.
func (e *Endpoint) Close() error {
	e.bus.mu.Lock()
	e.closeNoLock()
	e.bus.mu.Unlock()
	return nil
}

func (e *Endpoint) closeNoLock() {
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return
	}
	e.dead = true
	close(e.closed)
	close(e.fifo)
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	e.mu.Unlock()
}
