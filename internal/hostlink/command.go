package hostlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

var (
	ErrInvalidMode    = errors.New("hostlink: invalid mode")
	ErrPayloadTooLong = errors.New("hostlink: payload too long")
	ErrShortFrame     = errors.New("hostlink: short frame")
)

// Command is one decoded host request. It is immutable once parsed.
type Command struct {
	Extended   bool
	ID         uint32
	Payload    []byte
	IntervalMS uint16
}

// Interval returns the repeat period; zero means send once.
func (c Command) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Mode returns the wire mode byte.
func (c Command) Mode() byte {
	if c.Extended {
		return ModeExtended
	}
	return ModeStandard
}

// ParseCommand decodes a complete request. The identifier is trimmed to 11
// or 29 bits.
func ParseCommand(b []byte) (Command, error) {
	var c Command
	if len(b) < MinFrameLen {
		return c, fmt.Errorf("%w (%d bytes)", ErrShortFrame, len(b))
	}
	var off int
	switch b[0] {
	case ModeStandard:
		c.ID = uint32(binary.BigEndian.Uint16(b[1:3]))
		off = 3
	case ModeExtended:
		c.Extended = true
		c.ID = binary.BigEndian.Uint32(b[1:5])
		off = 5
	default:
		return c, fmt.Errorf("%w (%d)", ErrInvalidMode, b[0])
	}
	c.ID = can.MaskID(c.Extended, c.ID)
	ln := int(b[off])
	if ln > MaxPayload {
		return c, fmt.Errorf("%w (%d)", ErrPayloadTooLong, ln)
	}
	if len(b) < FrameLen(b[0], byte(ln)) {
		return c, fmt.Errorf("%w (%d bytes, want %d)", ErrShortFrame, len(b), FrameLen(b[0], byte(ln)))
	}
	off++
	c.Payload = make([]byte, ln)
	copy(c.Payload, b[off:off+ln])
	off += ln
	c.IntervalMS = binary.BigEndian.Uint16(b[off : off+2])
	return c, nil
}

// Encode returns the request bytes for c. Payload beyond MaxPayload is
// truncated.
func (c Command) Encode() []byte {
	p := c.Payload
	if len(p) > MaxPayload {
		p = p[:MaxPayload]
	}
	out := make([]byte, 0, FrameLen(c.Mode(), byte(len(p))))
	out = append(out, c.Mode())
	if c.Extended {
		out = binary.BigEndian.AppendUint32(out, c.ID)
	} else {
		out = binary.BigEndian.AppendUint16(out, uint16(c.ID))
	}
	out = append(out, byte(len(p)))
	out = append(out, p...)
	return binary.BigEndian.AppendUint16(out, c.IntervalMS)
}
