package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter funnels all host notification writes through one goroutine.
type TXWriter struct{ base *transport.AsyncTx[[]byte] }

var _ transport.ByteSink = (*TXWriter)(nil)

// NewTXWriter creates a serial TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, sp Port, buf int) *TXWriter {
	send := func(b []byte) error {
		_, err := sp.Write(b)
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncHostTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// Send queues one encoded notification (drops with ErrTxOverflow if buffer
// full). The caller must not modify b afterwards.
func (w *TXWriter) Send(b []byte) error { return w.base.Send(b) }

// Pending returns the number of queued notifications.
func (w *TXWriter) Pending() int { return w.base.Pending() }

// Close stops the writer and waits for pending goroutine exit.
func (w *TXWriter) Close() { w.base.Close() }
