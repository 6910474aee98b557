// Package bus provides the send_bus_frame collaborator: a single-slot
// transmit mailbox in front of a CAN device, and an in-memory loopback bus.
package bus

import (
	"errors"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

var (
	// ErrMailboxBusy is returned when the transmit slot stayed occupied for
	// the whole retry budget.
	ErrMailboxBusy = errors.New("bus: mailbox busy")
	// ErrBusOff is returned while the controller reports bus-off.
	ErrBusOff = errors.New("bus: bus off")
	// ErrClosed is returned after the device or mailbox has been closed.
	ErrClosed = errors.New("bus: closed")
)

// Device is a CAN controller seen by the bridge. Implemented by
// *socketcan.Device, loopback endpoints and test fakes.
type Device interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	// BusOff reports whether the controller is currently bus-off.
	BusOff() bool
	Close() error
}
