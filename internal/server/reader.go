package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/hostlink"
	"github.com/kstaniek/go-can-bridge/internal/hub"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

const readBufSize = 256

// startReader feeds the connection's bytes through a private assembler into
// the host sink.
func (s *Server) startReader(ctx context.Context, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close(); cl.Close() }()
		var asm hostlink.Assembler
		buf := make([]byte, readBufSize)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			n, err := conn.Read(buf)
			if n > 0 {
				metrics.AddHostRxBytes(n)
				if s.Host != nil {
					if ferr := s.Host.FeedHost(ctx, &asm, buf[:n]); ferr != nil {
						wrap := fmt.Errorf("%w: %w", ErrHostClosed, ferr)
						logger.Debug("host_feed_stopped", "error", wrap)
						if ctx.Err() == nil {
							s.setError(wrap)
						}
						return
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
}
