package serial

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePort struct {
	mu    sync.Mutex
	out   bytes.Buffer
	block chan struct{}
	err   error
}

func (p *fakePort) Read([]byte) (int, error) { return 0, nil }
func (p *fakePort) Close() error             { return nil }

func (p *fakePort) Write(b []byte) (int, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.out.Write(b)
}

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func TestTXWriter_WritesInOrder(t *testing.T) {
	p := &fakePort{}
	w := NewTXWriter(context.Background(), p, 8)
	defer w.Close()

	_ = w.Send([]byte{0x00, 0x01, 0x23, 0x01, 0xAA, 0x00})
	_ = w.Send([]byte{0x00, 0x01, 0x24, 0x00, 0x01})

	want := []byte{0x00, 0x01, 0x23, 0x01, 0xAA, 0x00, 0x00, 0x01, 0x24, 0x00, 0x01}
	deadline := time.Now().Add(time.Second)
	for !bytes.Equal(p.written(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("written % x, want % x", p.written(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTXWriter_Overflow(t *testing.T) {
	p := &fakePort{block: make(chan struct{})}
	w := NewTXWriter(context.Background(), p, 1)
	defer w.Close()
	defer close(p.block)

	var overflow bool
	for i := 0; i < 10; i++ {
		if err := w.Send([]byte{byte(i)}); errors.Is(err, ErrTxOverflow) {
			overflow = true
			break
		}
	}
	if !overflow {
		t.Fatal("expected ErrTxOverflow")
	}
}

func TestTXWriter_WriteErrorKeepsRunning(t *testing.T) {
	p := &fakePort{err: errors.New("io")}
	w := NewTXWriter(context.Background(), p, 4)
	defer w.Close()
	_ = w.Send([]byte{1})
	time.Sleep(5 * time.Millisecond)

	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	_ = w.Send([]byte{2})
	deadline := time.Now().Add(time.Second)
	for !bytes.Equal(p.written(), []byte{2}) {
		if time.Now().After(deadline) {
			t.Fatalf("written % x", p.written())
		}
		time.Sleep(time.Millisecond)
	}
}
