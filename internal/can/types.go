package can

import "errors"

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// Frame is a classic CAN frame as seen by the bridge.
// ID holds the bare 11-bit or 29-bit identifier (no flag bits); Extended
// selects the width. Only the first Len bytes of Data are valid.
type Frame struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [MaxLen]byte
}

// NewFrame builds a frame, masking id to the selected width and truncating
// payload to 8 bytes.
func NewFrame(extended bool, id uint32, payload []byte) Frame {
	f := Frame{Extended: extended, ID: MaskID(extended, id)}
	n := copy(f.Data[:], payload)
	f.Len = uint8(n)
	return f
}

// MaskID trims id to 29 bits (extended) or 11 bits (standard).
func MaskID(extended bool, id uint32) uint32 {
	if extended {
		return id & CAN_EFF_MASK
	}
	return id & CAN_SFF_MASK
}

// Payload returns the valid data bytes (aliases f.Data).
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

// Validate reports whether the identifier fits its width and Len is 0..8.
func (f Frame) Validate() error {
	if f.Len > MaxLen {
		return ErrInvalidLen
	}
	if f.ID != MaskID(f.Extended, f.ID) {
		return ErrInvalidID
	}
	return nil
}

// SocketCANID returns the id with the EFF flag applied like struct can_frame.
func (f Frame) SocketCANID() uint32 {
	if f.Extended {
		return f.ID | CAN_EFF_FLAG
	}
	return f.ID
}

// FromSocketCANID splits a raw can_id into bare id and extended flag.
func FromSocketCANID(raw uint32) (id uint32, extended bool) {
	if raw&CAN_EFF_FLAG != 0 {
		return raw & CAN_EFF_MASK, true
	}
	return raw & CAN_SFF_MASK, false
}
