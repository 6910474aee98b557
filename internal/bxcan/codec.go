// Package bxcan maps frames to and from the register image of a bxCAN
// transmit/receive mailbox (TIR/TDTR/TDLR/TDHR on TX, RIR/RDTR/RDLR/RDHR on RX).
package bxcan

import "github.com/kstaniek/go-can-bridge/internal/can"

// Identifier register bits.
const (
	TXRQ = 1 << 0 // transmit request (TX only)
	RTR  = 1 << 1
	IDE  = 1 << 2

	stdShift = 21
	extShift = 3
	dlcMask  = 0x0F
)

// Mailbox is one mailbox worth of register values.
type Mailbox struct {
	IR  uint32 // identifier
	DTR uint32 // data length / time
	DLR uint32 // payload bytes 0..3
	DHR uint32 // payload bytes 4..7
}

func clampLen(n uint32) uint8 {
	if n > can.MaxLen {
		return can.MaxLen
	}
	return uint8(n)
}

// Encode packs f into mailbox registers. TXRQ is left clear; callers set it
// when they hand the mailbox to the controller.
func Encode(f can.Frame) Mailbox {
	var m Mailbox
	if f.Extended {
		m.IR = (f.ID&can.CAN_EFF_MASK)<<extShift | IDE
	} else {
		m.IR = (f.ID & can.CAN_SFF_MASK) << stdShift
	}
	n := clampLen(uint32(f.Len))
	m.DTR = uint32(n) & dlcMask
	for i := uint8(0); i < n; i++ {
		if i < 4 {
			m.DLR |= uint32(f.Data[i]) << (8 * i)
		} else {
			m.DHR |= uint32(f.Data[i]) << (8 * (i - 4))
		}
	}
	return m
}

// Decode unpacks mailbox registers into a frame. Bytes beyond the DLC are
// left zero.
func Decode(m Mailbox) can.Frame {
	var f can.Frame
	f.Extended = m.IR&IDE != 0
	if f.Extended {
		f.ID = (m.IR >> extShift) & can.CAN_EFF_MASK
	} else {
		f.ID = (m.IR >> stdShift) & can.CAN_SFF_MASK
	}
	f.Len = clampLen(m.DTR & dlcMask)
	for i := uint8(0); i < f.Len; i++ {
		if i < 4 {
			f.Data[i] = byte(m.DLR >> (8 * i))
		} else {
			f.Data[i] = byte(m.DHR >> (8 * (i - 4)))
		}
	}
	return f
}
