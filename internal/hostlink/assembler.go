// Package hostlink implements the host side wire protocol of the bridge:
// the incremental request assembler, command parsing and the notification
// format sent back for every received bus frame.
//
// Request layout (big-endian):
//
//	[mode:1][id:2 (mode 0) | 4 (mode 1)][len:1][payload:len][interval:2]
//
// Notification layout:
//
//	[is_extended:1][id:2|4][len:1][payload:len][attack_flag:1]
package hostlink

const (
	// MinFrameLen is the shortest possible request (mode 0, empty payload).
	MinFrameLen = 6
	// MaxPayload is the largest payload a request may carry; one byte of the
	// bus frame is reserved for the sequence counter.
	MaxPayload = 7
	// BufferCeiling bounds the assembly buffer; exceeding it resets.
	BufferCeiling = 30

	ModeStandard byte = 0
	ModeExtended byte = 1
)

// Status is the result of feeding one byte to the Assembler.
type Status uint8

const (
	Incomplete Status = iota
	Complete
	Invalid
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// FrameLen returns the total request length for a mode and payload length.
func FrameLen(mode, payloadLen byte) int {
	if mode == ModeExtended {
		return 8 + int(payloadLen)
	}
	return 6 + int(payloadLen)
}

// Assembler accumulates host bytes into a candidate request. It is owned by
// a single reader goroutine and is not safe for concurrent use.
type Assembler struct {
	buf   [BufferCeiling + 1]byte
	n     int
	ready bool
}

// Feed appends b and reports whether the buffered bytes form a complete
// request. Invalid input resets the buffer silently. After Complete the
// caller must Take the frame; further bytes are buffered but not evaluated
// until then.
func (a *Assembler) Feed(b byte) Status {
	if a.n >= len(a.buf) {
		a.Reset()
		return Invalid
	}
	a.buf[a.n] = b
	a.n++
	if a.ready {
		if a.n > BufferCeiling {
			a.Reset()
			return Invalid
		}
		return Complete
	}
	if a.n < MinFrameLen {
		return Incomplete
	}
	mode := a.buf[0]
	if mode != ModeStandard && mode != ModeExtended {
		a.Reset()
		return Invalid
	}
	ln := a.buf[3]
	if mode == ModeExtended {
		ln = a.buf[5]
	}
	if ln > MaxPayload {
		a.Reset()
		return Invalid
	}
	if a.n >= FrameLen(mode, ln) {
		a.ready = true
		return Complete
	}
	if a.n > BufferCeiling {
		a.Reset()
		return Invalid
	}
	return Incomplete
}

// Len returns the number of buffered bytes.
func (a *Assembler) Len() int { return a.n }

// Ready reports whether a complete request is waiting to be taken.
func (a *Assembler) Ready() bool { return a.ready }

// Take copies the complete request out of the buffer and resets it. It
// returns nil if no request is ready.
func (a *Assembler) Take() []byte {
	if !a.ready {
		return nil
	}
	ln := a.buf[3]
	if a.buf[0] == ModeExtended {
		ln = a.buf[5]
	}
	out := make([]byte, FrameLen(a.buf[0], ln))
	copy(out, a.buf[:len(out)])
	a.Reset()
	return out
}

// Reset discards buffered bytes.
func (a *Assembler) Reset() {
	a.n = 0
	a.ready = false
}
