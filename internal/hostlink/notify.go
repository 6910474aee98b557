package hostlink

import "encoding/binary"

// Notification reports one received bus frame to the host.
type Notification struct {
	Extended bool
	ID       uint32
	Payload  []byte
	// HasFlag selects whether the trailing attack flag byte is emitted.
	HasFlag bool
	Attack  bool
}

// Len returns the encoded size.
func (n Notification) Len() int {
	sz := 1 + 2 + 1 + len(n.Payload)
	if n.Extended {
		sz += 2
	}
	if n.HasFlag {
		sz++
	}
	return sz
}

// AppendTo appends the wire form of n to dst.
func (n Notification) AppendTo(dst []byte) []byte {
	if n.Extended {
		dst = append(dst, 1)
		dst = binary.BigEndian.AppendUint32(dst, n.ID)
	} else {
		dst = append(dst, 0)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n.ID))
	}
	dst = append(dst, byte(len(n.Payload)))
	dst = append(dst, n.Payload...)
	if n.HasFlag {
		var flag byte
		if n.Attack {
			flag = 1
		}
		dst = append(dst, flag)
	}
	return dst
}

// Bytes returns the wire form of n in a fresh slice.
func (n Notification) Bytes() []byte { return n.AppendTo(make([]byte, 0, n.Len())) }
