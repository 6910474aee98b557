package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/stretchr/testify/require"
)

func readWithTimeout(t *testing.T, ep *Endpoint) (can.Frame, error) {
	t.Helper()
	type res struct {
		fr  can.Frame
		err error
	}
	ch := make(chan res, 1)
	go func() {
		var fr can.Frame
		err := ep.ReadFrame(&fr)
		ch <- res{fr, err}
	}()
	select {
	case r := <-ch:
		return r.fr, r.err
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return can.Frame{}, nil
	}
}

func TestLoopback_DeliversToPeer(t *testing.T) {
	b := NewLoopbackBus()
	defer b.Close()
	a := b.Open(false)
	peer := b.Open(false)

	fr := can.NewFrame(true, 0x1ABCDE, []byte{1, 2, 3, 4, 5})
	require.NoError(t, a.WriteFrame(fr))

	got, err := readWithTimeout(t, peer)
	require.NoError(t, err)
	require.Equal(t, fr, got)
	select {
	case <-a.fifo:
		t.Fatal("sender without echo received its own frame")
	default:
	}
}

func TestLoopback_Echo(t *testing.T) {
	b := NewLoopbackBus()
	defer b.Close()
	ep := b.Open(true)
	fr := can.NewFrame(false, 0x123, []byte{0xAA})
	require.NoError(t, ep.WriteFrame(fr))
	got, err := readWithTimeout(t, ep)
	require.NoError(t, err)
	require.Equal(t, fr, got)
}

func TestLoopback_BusOff(t *testing.T) {
	b := NewLoopbackBus()
	defer b.Close()
	ep := b.Open(true)
	ep.SetBusOff(true)
	require.True(t, ep.BusOff())
	fr := can.NewFrame(false, 0x1, nil)
	require.ErrorIs(t, ep.WriteFrame(fr), ErrBusOff)
}

func TestLoopback_InvalidFrame(t *testing.T) {
	b := NewLoopbackBus()
	defer b.Close()
	ep := b.Open(true)
	err := ep.WriteFrame(can.Frame{ID: 0x800})
	require.True(t, errors.Is(err, can.ErrInvalidID))
}

func TestLoopback_Overrun(t *testing.T) {
	b := NewLoopbackBus()
	defer b.Close()
	tx := b.Open(false)
	rx := b.Open(false)
	fr := can.NewFrame(false, 0x10, nil)
	for i := 0; i < fifoDepth+3; i++ {
		require.NoError(t, tx.WriteFrame(fr))
	}
	require.Equal(t, uint64(3), rx.Overruns())
}

func TestLoopback_CloseUnblocksReader(t *testing.T) {
	b := NewLoopbackBus()
	ep := b.Open(false)
	done := make(chan error, 1)
	go func() {
		var fr can.Frame
		done <- ep.ReadFrame(&fr)
	}()
	require.NoError(t, b.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader not released by Close")
	}
	fr := can.NewFrame(false, 0x1, nil)
	require.ErrorIs(t, ep.WriteFrame(fr), ErrClosed)
	require.ErrorIs(t, b.Open(false).ReadFrame(&fr), ErrClosed)
}
