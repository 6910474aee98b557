package bridge

import (
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/hostlink"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

// Dispatcher turns decoded host commands into bus transmissions.
type Dispatcher struct {
	sink       transport.FrameSink
	sched      *Scheduler
	seq        *Sequence
	antiReplay bool
	drops      *dropReporter
}

// NewDispatcher wires a dispatcher to its collaborators.
func NewDispatcher(sink transport.FrameSink, sched *Scheduler, seq *Sequence, antiReplay bool) *Dispatcher {
	return &Dispatcher{sink: sink, sched: sched, seq: seq, antiReplay: antiReplay, drops: newDropReporter()}
}

// Frame builds the bus frame for cmd. With anti-replay enabled the next
// sequence value is appended after the payload.
func (d *Dispatcher) Frame(cmd hostlink.Command) can.Frame {
	fr := can.NewFrame(cmd.Extended, cmd.ID, cmd.Payload)
	if d.antiReplay && int(fr.Len) < can.MaxLen {
		fr.Data[fr.Len] = d.seq.Next()
		fr.Len++
	}
	return fr
}

// Dispatch executes cmd. Interval zero cancels any repeat and sends once;
// a non-zero interval replaces the repeat entry and sends nothing now. A
// failed single-shot send is dropped and returned.
func (d *Dispatcher) Dispatch(cmd hostlink.Command) error {
	fr := d.Frame(cmd)
	if cmd.IntervalMS > 0 {
		d.sched.Arm(fr, cmd.Interval())
		return nil
	}
	d.sched.Stop()
	if err := d.sink.SendFrame(fr); err != nil {
		d.drops.report("single", fr, err)
		return err
	}
	return nil
}
