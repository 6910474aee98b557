// Package bridge is the protocol core: it dispatches host commands onto the
// bus, runs the repeat scheduler and turns bus traffic into host
// notifications.
package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/hostlink"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/replay"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("bridge: closed")

const defaultQueueSize = 16

// Options are the bridge capability flags.
type Options struct {
	// AntiReplay appends a sequence byte to outbound frames and checks the
	// trailing byte of inbound frames.
	AntiReplay bool
	// Bidirectional forwards bus traffic to the host.
	Bidirectional bool
	// Timer drives the repeat scheduler (default: TickerTimer).
	Timer Timer
	// QueueSize bounds the command queue between host readers and Run.
	QueueSize int
}

// Bridge ties the host link to the bus.
type Bridge struct {
	opts   Options
	seq    Sequence
	guard  replay.Guard
	sched  *Scheduler
	disp   *Dispatcher
	in     *Inbound
	notify transport.ByteSink

	cmds      chan hostlink.Command
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a bridge sending bus frames through sink and host
// notifications through notify (may be nil).
func New(sink transport.FrameSink, notify transport.ByteSink, opts Options) *Bridge {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	b := &Bridge{
		opts:   opts,
		notify: notify,
		cmds:   make(chan hostlink.Command, opts.QueueSize),
		done:   make(chan struct{}),
	}
	b.sched = NewScheduler(sink, opts.Timer, &b.seq, opts.AntiReplay)
	b.disp = NewDispatcher(sink, b.sched, &b.seq, opts.AntiReplay)
	b.in = NewInbound(&b.guard, opts.AntiReplay)
	return b
}

// Options returns the configured capability flags.
func (b *Bridge) Options() Options { return b.opts }

// Sequence exposes the outbound sequence counter.
func (b *Bridge) Sequence() *Sequence { return &b.seq }

// Scheduler exposes the repeat scheduler.
func (b *Bridge) Scheduler() *Scheduler { return b.sched }

// Submit queues cmd for Run. It blocks while the queue is full until ctx is
// done or the bridge is closed.
func (b *Bridge) Submit(ctx context.Context, cmd hostlink.Command) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// FeedHost pushes raw host bytes through a, submitting every complete
// request. Malformed requests are counted and discarded.
func (b *Bridge) FeedHost(ctx context.Context, a *hostlink.Assembler, p []byte) error {
	for _, c := range p {
		switch a.Feed(c) {
		case hostlink.Invalid:
			metrics.IncMalformed()
		case hostlink.Complete:
			cmd, err := hostlink.ParseCommand(a.Take())
			if err != nil {
				metrics.IncMalformed()
				logging.L().Debug("host_request_invalid", "error", err)
				continue
			}
			if err := b.Submit(ctx, cmd); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run dispatches queued commands until ctx is done or Close is called.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case cmd := <-b.cmds:
			metrics.IncCommand()
			_ = b.disp.Dispatch(cmd)
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		}
	}
}

// HandleBusFrame processes one received bus frame. Without the
// bidirectional capability bus traffic is not forwarded.
func (b *Bridge) HandleBusFrame(fr can.Frame) {
	metrics.IncBusRx()
	if !b.opts.Bidirectional {
		return
	}
	out, ok := b.in.Handle(fr)
	if !ok || b.notify == nil {
		return
	}
	if err := b.notify.Send(out); err != nil {
		logging.L().Debug("host_notify_error", "error", err)
	}
}

// Close stops the repeat scheduler and Run. Queued commands are discarded.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.sched.Shutdown()
	})
}
