//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: unsupported on this platform")

// Device is a placeholder so non-linux builds compile.
type Device struct{}

func Open(string) (*Device, error) { return nil, ErrUnsupported }

func (*Device) ReadFrame(*can.Frame) error { return ErrUnsupported }
func (*Device) WriteFrame(can.Frame) error { return ErrUnsupported }
func (*Device) BusOff() bool               { return false }
func (*Device) Close() error               { return nil }
