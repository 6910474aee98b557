package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/hostlink"
	"github.com/kstaniek/go-can-bridge/internal/serial"
)

// fakePort is an in-memory serial line. Reads return queued chunks, or
// io.EOF after a short wait to model the port read timeout.
type fakePort struct {
	in     chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakePort() *fakePort {
	return &fakePort{
		in:     make(chan []byte, 16),
		errs:   make(chan error, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.in:
		return copy(b, chunk), nil
	case err := <-p.errs:
		return 0, err
	case <-p.closed:
		return 0, &os.PathError{Op: "read", Path: "/dev/fake", Err: os.ErrClosed}
	case <-time.After(5 * time.Millisecond):
		return 0, io.EOF
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

// feedRecorder collects the bytes handed to FeedHost.
type feedRecorder struct {
	mu   sync.Mutex
	got  []byte
	cmds []hostlink.Command
}

func (r *feedRecorder) FeedHost(_ context.Context, asm *hostlink.Assembler, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p...)
	for _, b := range p {
		if asm.Feed(b) == hostlink.Complete {
			if cmd, err := hostlink.ParseCommand(asm.Take()); err == nil {
				r.cmds = append(r.cmds, cmd)
			}
		}
	}
	return nil
}

func (r *feedRecorder) commands() []hostlink.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hostlink.Command(nil), r.cmds...)
}

func withFakeSerial(t *testing.T, p *fakePort) {
	t.Helper()
	prev := openSerialPort
	openSerialPort = func(string, int, time.Duration) (serial.Port, error) { return p, nil }
	t.Cleanup(func() { openSerialPort = prev })
}

func TestSerialHost_RXAssemblesAcrossReads(t *testing.T) {
	port := newFakePort()
	withFakeSerial(t, port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sh, err := openSerialHost(ctx, &appConfig{serialDev: "/dev/fake", baud: 115200}, testLogger())
	if err != nil {
		t.Fatalf("openSerialHost: %v", err)
	}
	rec := &feedRecorder{}
	var wg sync.WaitGroup
	sh.start(ctx, rec, testLogger(), &wg)

	port.in <- []byte{0x00, 0x01, 0x23}
	port.in <- []byte{0x02, 0xAA, 0xBB, 0x00, 0x00}

	deadline := time.Now().Add(time.Second)
	for len(rec.commands()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cmds := rec.commands()
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if cmds[0].ID != 0x123 || !bytes.Equal(cmds[0].Payload, []byte{0xAA, 0xBB}) || cmds[0].IntervalMS != 0 {
		t.Fatalf("unexpected command: %+v", cmds[0])
	}
	cancel()
	sh.close()
	if !waitTimeout(&wg, time.Second) {
		t.Fatal("serial RX loop did not stop")
	}
}

func TestSerialHost_ReadBackoff(t *testing.T) {
	port := newFakePort()
	withFakeSerial(t, port)
	var mu sync.Mutex
	var sleeps []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
	}
	defer func() { sleepFn = time.Sleep }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sh, err := openSerialHost(ctx, &appConfig{serialDev: "/dev/fake", baud: 9600}, testLogger())
	if err != nil {
		t.Fatalf("openSerialHost: %v", err)
	}
	var wg sync.WaitGroup
	sh.start(ctx, &feedRecorder{}, testLogger(), &wg)

	boom := errors.New("framing error")
	for i := 0; i < 7; i++ {
		port.errs <- boom
	}
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(sleeps)
		mu.Unlock()
		if n >= 7 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	sh.close()
	waitTimeout(&wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{20, 40, 80, 160, 320, 500, 500}
	if len(sleeps) < len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeps)
	}
	for i, ms := range want {
		if sleeps[i] != ms*time.Millisecond {
			t.Fatalf("sleep %d: got %v want %v", i, sleeps[i], ms*time.Millisecond)
		}
	}
}

func TestSerialHost_DeviceLostEndsLoop(t *testing.T) {
	port := newFakePort()
	withFakeSerial(t, port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sh, err := openSerialHost(ctx, &appConfig{serialDev: "/dev/fake"}, testLogger())
	if err != nil {
		t.Fatalf("openSerialHost: %v", err)
	}
	var wg sync.WaitGroup
	sh.start(ctx, &feedRecorder{}, testLogger(), &wg)
	_ = port.Close()
	if !waitTimeout(&wg, time.Second) {
		t.Fatal("RX loop kept running after device loss")
	}
	sh.tx.Close()
}

func TestSerialHost_OpenError(t *testing.T) {
	prev := openSerialPort
	openSerialPort = func(string, int, time.Duration) (serial.Port, error) { return nil, os.ErrNotExist }
	defer func() { openSerialPort = prev }()
	if _, err := openSerialHost(context.Background(), &appConfig{serialDev: "/dev/none"}, testLogger()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
}
