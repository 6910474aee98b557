package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kstaniek/go-can-bridge/internal/hostlink"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/serial"
	"github.com/kstaniek/go-can-bridge/internal/server"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// serialHost is the serial host link: requests in, notifications out.
type serialHost struct {
	port serial.Port
	tx   *serial.TXWriter
}

// openSerialHost opens the port and starts the notification writer.
func openSerialHost(ctx context.Context, cfg *appConfig, l *slog.Logger) (*serialHost, error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
	return &serialHost{port: sp, tx: serial.NewTXWriter(ctx, sp, hostTxQueueSize)}, nil
}

// Send queues a notification for the host.
func (s *serialHost) Send(b []byte) error { return s.tx.Send(b) }

// start launches the RX loop feeding host bytes into sink. The serial line
// has a single assembler owned by this goroutine.
func (s *serialHost) start(ctx context.Context, sink server.HostSink, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		var asm hostlink.Assembler
		buf := make([]byte, serialReadBufSize)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := s.port.Read(buf)
			if n > 0 {
				metrics.AddHostRxBytes(n)
				if ferr := sink.FeedHost(ctx, &asm, buf[:n]); ferr != nil {
					return
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					l.Error("serial_device_lost", "error", err)
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // read timeout with no data
				}
				metrics.IncError(metrics.ErrSerialRead)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
}

func (s *serialHost) close() {
	_ = s.port.Close()
	s.tx.Close()
}
