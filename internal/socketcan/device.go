//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/can"
)

// Error classes from <linux/can/error.h> carried in can_id of error frames.
const (
	canErrBusOff    = 0x00000040
	canErrRestarted = 0x00000100
)

// Device is a raw classic CAN socket bound to one interface.
type Device struct {
	fd     int
	busOff atomic.Bool
}

var _ bus.Device = (*Device)(nil)

func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, canErrBusOff|canErrRestarted); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("error filter: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// BusOff reports the state last announced by the controller's error frames.
func (d *Device) BusOff() bool { return d.busOff.Load() }

// ReadFrame reads the next classic data frame. Error frames update the
// bus-off state and RTR frames are skipped.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	for {
		n, err := unix.Read(d.fd, buf[:])
		if err != nil {
			return err
		}
		if n != unix.CAN_MTU {
			return fmt.Errorf("short read: %d", n)
		}
		if decodeRaw(buf[:], fr, &d.busOff) {
			return nil
		}
	}
}

// decodeRaw parses a struct can_frame:
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// Fields are in host byte order (little-endian on supported targets). It
// returns false for frames the bridge does not forward.
func decodeRaw(buf []byte, fr *can.Frame, busOff *atomic.Bool) bool {
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&can.CAN_ERR_FLAG != 0 {
		switch {
		case raw&canErrBusOff != 0:
			busOff.Store(true)
		case raw&canErrRestarted != 0:
			busOff.Store(false)
		}
		return false
	}
	if raw&can.CAN_RTR_FLAG != 0 {
		return false
	}
	dlc := buf[4]
	if dlc > can.MaxLen {
		dlc = can.MaxLen
	}
	id, ext := can.FromSocketCANID(raw)
	*fr = can.Frame{ID: id, Extended: ext, Len: dlc}
	copy(fr.Data[:], buf[8:8+int(dlc)])
	return true
}

// WriteFrame writes one classic CAN frame. A full device queue is reported
// as bus.ErrMailboxBusy.
func (d *Device) WriteFrame(fr can.Frame) error {
	if err := fr.Validate(); err != nil {
		return err
	}
	var buf [unix.CAN_MTU]byte
	encodeRaw(buf[:], fr)
	_, err := unix.Write(d.fd, buf[:])
	if errors.Is(err, unix.ENOBUFS) {
		return fmt.Errorf("%w: %v", bus.ErrMailboxBusy, err)
	}
	return err
}

func encodeRaw(buf []byte, fr can.Frame) {
	binary.LittleEndian.PutUint32(buf[0:4], fr.SocketCANID())
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
}
