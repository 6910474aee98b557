package bridge

import (
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/hostlink"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/replay"
)

// Inbound converts received bus frames into host notifications.
type Inbound struct {
	guard      *replay.Guard
	antiReplay bool
}

// NewInbound returns a processor. guard may be nil when antiReplay is off.
func NewInbound(guard *replay.Guard, antiReplay bool) *Inbound {
	if guard == nil {
		guard = &replay.Guard{}
	}
	return &Inbound{guard: guard, antiReplay: antiReplay}
}

// Handle returns the encoded notification for fr, or false when the frame
// produces none. With anti-replay enabled the trailing byte is the sender's
// sequence value: it is checked by the guard and stripped, and the
// notification carries the attack flag. Empty frames cannot carry a
// sequence byte and are dropped.
func (in *Inbound) Handle(fr can.Frame) ([]byte, bool) {
	payload := fr.Payload()
	if !in.antiReplay {
		n := hostlink.Notification{Extended: fr.Extended, ID: fr.ID, Payload: payload}
		return n.Bytes(), true
	}
	if len(payload) == 0 {
		return nil, false
	}
	last := len(payload) - 1
	if in.guard.Check(fr.ID, payload[last]) == replay.SuspectedReplay {
		metrics.IncReplaySuspected()
		logging.L().Warn("replay_suspected", "id", fr.ID, "ext", fr.Extended, "counter", payload[last])
	}
	n := hostlink.Notification{
		Extended: fr.Extended,
		ID:       fr.ID,
		Payload:  payload[:last],
		HasFlag:  true,
		Attack:   in.guard.TakeFlag(),
	}
	return n.Bytes(), true
}
