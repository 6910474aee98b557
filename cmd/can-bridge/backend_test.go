package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

// testLogger returns a no-op slog.Logger for tests.
func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeBusDev struct {
	mu       sync.Mutex
	frames   []can.Frame
	idx      int
	errAfter bool
	written  []can.Frame
}

func (d *fakeBusDev) ReadFrame(fr *can.Frame) error {
	d.mu.Lock()
	if d.idx < len(d.frames) {
		*fr = d.frames[d.idx]
		d.idx++
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	if d.errAfter {
		return io.ErrUnexpectedEOF
	}
	time.Sleep(10 * time.Millisecond)
	return bus.ErrClosed
}

func (d *fakeBusDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	d.written = append(d.written, fr)
	d.mu.Unlock()
	return nil
}

func (d *fakeBusDev) BusOff() bool { return false }
func (d *fakeBusDev) Close() error { return nil }

func TestInitBusDevice_SocketCAN(t *testing.T) {
	fake := &fakeBusDev{}
	prev := openSocketCANDevice
	openSocketCANDevice = func(iface string) (bus.Device, error) {
		if iface != "vcan0" {
			t.Errorf("unexpected iface %q", iface)
		}
		return fake, nil
	}
	defer func() { openSocketCANDevice = prev }()
	dev, cleanup, err := initBusDevice(&appConfig{backend: "socketcan", canIf: "vcan0"}, testLogger())
	if err != nil {
		t.Fatalf("initBusDevice: %v", err)
	}
	defer cleanup()
	if dev != bus.Device(fake) {
		t.Fatal("hook device not returned")
	}
}

func TestInitBusDevice_SocketCANError(t *testing.T) {
	prev := openSocketCANDevice
	openSocketCANDevice = func(string) (bus.Device, error) { return nil, errors.New("no such device") }
	defer func() { openSocketCANDevice = prev }()
	if _, _, err := initBusDevice(&appConfig{backend: "socketcan", canIf: "can9"}, testLogger()); err == nil {
		t.Fatal("expected error")
	}
}

func TestInitBusDevice_LoopbackEcho(t *testing.T) {
	dev, cleanup, err := initBusDevice(&appConfig{backend: "loopback", loopbackEcho: true}, testLogger())
	if err != nil {
		t.Fatalf("initBusDevice: %v", err)
	}
	defer cleanup()
	fr := can.NewFrame(false, 0x321, []byte{1})
	if err := dev.WriteFrame(fr); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got can.Frame
	if err := dev.ReadFrame(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != fr {
		t.Fatalf("echo mismatch: %+v", got)
	}
}

func TestInitBusDevice_Unknown(t *testing.T) {
	if _, _, err := initBusDevice(&appConfig{backend: "serial"}, testLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestStartBusRX_DeliversAndCountsErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleepFn = func(time.Duration) {}
	defer func() { sleepFn = time.Sleep }()

	frame := can.NewFrame(true, 0x555, []byte{1, 2, 3})
	dev := &fakeBusDev{frames: []can.Frame{frame}, errAfter: true}
	got := make(chan can.Frame, 1)
	before := metrics.Snap().Errors

	var wg sync.WaitGroup
	startBusRX(ctx, dev, func(fr can.Frame) {
		select {
		case got <- fr:
		default:
		}
	}, testLogger(), &wg)

	select {
	case fr := <-got:
		if fr != frame {
			t.Fatalf("unexpected frame: %+v", fr)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus frame")
	}
	deadline := time.Now().Add(time.Second)
	for metrics.Snap().Errors == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if metrics.Snap().Errors == before {
		t.Fatal("expected read error to be counted")
	}
	cancel()
	wg.Wait()
}

func TestStartBusRX_StopsOnClosed(t *testing.T) {
	var wg sync.WaitGroup
	startBusRX(context.Background(), &fakeBusDev{}, func(can.Frame) {}, testLogger(), &wg)
	if !waitTimeout(&wg, time.Second) {
		t.Fatal("RX loop did not stop on closed device")
	}
}
