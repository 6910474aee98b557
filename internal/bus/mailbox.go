package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

const (
	// DefaultRetries is the number of extra attempts to claim the slot.
	DefaultRetries = 100
	// DefaultRetryDelay is the pause between attempts.
	DefaultRetryDelay = 50 * time.Microsecond
)

// sleepFn allows tests to intercept retry pauses.
var sleepFn = time.Sleep

// Mailbox models the controller's single in-flight transmission slot. Send
// claims the slot (retrying a bounded number of times), hands the frame to a
// worker goroutine and returns; the slot is released once the device write
// finishes.
type Mailbox struct {
	dev        Device
	retries    int
	retryDelay time.Duration

	busy   atomic.Bool
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed atomic.Bool
}

var _ transport.FrameSink = (*Mailbox)(nil)

// MailboxOption configures a Mailbox.
type MailboxOption func(*Mailbox)

// WithRetries sets the number of extra attempts (>= 0).
func WithRetries(n int) MailboxOption {
	return func(m *Mailbox) {
		if n >= 0 {
			m.retries = n
		}
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) MailboxOption {
	return func(m *Mailbox) {
		if d >= 0 {
			m.retryDelay = d
		}
	}
}

// NewMailbox starts the transmit worker for dev.
func NewMailbox(parent context.Context, dev Device, opts ...MailboxOption) *Mailbox {
	ctx, cancel := context.WithCancel(parent)
	m := &Mailbox{
		dev:        dev,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		ch:         make(chan can.Frame, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, o := range opts {
		o(m)
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

func (m *Mailbox) loop() {
	defer m.wg.Done()
	for {
		select {
		case fr, ok := <-m.ch:
			if !ok {
				return
			}
			if err := m.dev.WriteFrame(fr); err != nil {
				m.writeFailed(fr, err)
			} else {
				metrics.IncBusTx()
			}
			m.busy.Store(false)
		case <-m.ctx.Done():
			return
		}
	}
}

// writeFailed accounts for a frame the device refused after the slot was
// claimed. Busy and bus-off are drops, anything else is a write error.
func (m *Mailbox) writeFailed(fr can.Frame, err error) {
	switch {
	case errors.Is(err, ErrMailboxBusy):
		metrics.IncBusDropped(metrics.DropBusy)
		logging.L().Debug("bus_write_busy", "id", fr.ID, "ext", fr.Extended)
	case errors.Is(err, ErrBusOff):
		metrics.IncBusDropped(metrics.DropBusOff)
		logging.L().Debug("bus_write_bus_off", "id", fr.ID, "ext", fr.Extended)
	default:
		metrics.IncError(metrics.ErrBusWrite)
		logging.L().Warn("bus_write_error", "error", err, "id", fr.ID, "ext", fr.Extended)
	}
}

// Send transmits fr. It returns ErrBusOff if the controller is bus-off,
// ErrMailboxBusy if the slot could not be claimed within the retry budget
// and ErrClosed after Close. It never blocks beyond the retry budget.
func (m *Mailbox) Send(fr can.Frame) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.dev.BusOff() {
		return ErrBusOff
	}
	for attempt := 0; ; attempt++ {
		if m.busy.CompareAndSwap(false, true) {
			break
		}
		if attempt >= m.retries {
			return ErrMailboxBusy
		}
		sleepFn(m.retryDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		m.busy.Store(false)
		return ErrClosed
	}
	m.ch <- fr
	return nil
}

// SendFrame is Send under the transport.FrameSink name.
func (m *Mailbox) SendFrame(fr can.Frame) error { return m.Send(fr) }

// Busy reports whether a transmission is in flight.
func (m *Mailbox) Busy() bool { return m.busy.Load() }

// Close stops the worker. A frame still queued is discarded.
func (m *Mailbox) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.cancel()
	m.mu.Lock()
	close(m.ch)
	m.mu.Unlock()
	m.wg.Wait()
}
