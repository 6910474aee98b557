package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestHandshake_OK(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	errCh := make(chan error, 1)
	go func() { errCh <- Handshake(context.Background(), a, time.Second) }()
	if err := Handshake(context.Background(), b, time.Second); err != nil {
		t.Fatalf("peer handshake: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("handshake: %v", err)
	}
}

func TestHandshake_BadHello(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() {
		_, _ = io.ReadFull(b, make([]byte, len(Hello)))
		_, _ = b.Write([]byte("XXXXXXXXXXX"))
	}()
	err := Handshake(context.Background(), a, time.Second)
	if !errors.Is(err, errBadHello) {
		t.Fatalf("expected bad hello, got %v", err)
	}
}

func TestHandshake_Timeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() { _, _ = io.ReadFull(b, make([]byte, len(Hello))) }()
	err := Handshake(context.Background(), a, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
}

func TestMapErrToMetric(t *testing.T) {
	cases := map[error]string{
		ErrConnRead:         "tcp_read",
		ErrConnWrite:        "tcp_write",
		ErrHandshake:        "handshake",
		ErrAccept:           "tcp_read",
		ErrContext:          "context",
		ErrHostClosed:       "context",
		errors.New("other"): "other",
	}
	for err, want := range cases {
		if got := mapErrToMetric(err); got != want {
			t.Errorf("mapErrToMetric(%v) = %q, want %q", err, got, want)
		}
	}
}
