package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/socketcan"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string) (bus.Device, error) {
	d, err := socketcan.Open(iface)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// initBusDevice opens the selected CAN backend. It returns an error instead
// of exiting the process to allow graceful handling by the caller.
func initBusDevice(cfg *appConfig, l *slog.Logger) (bus.Device, func(), error) {
	switch cfg.backend {
	case "socketcan":
		dev, err := openSocketCANDevice(cfg.canIf)
		if err != nil {
			return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
		}
		l.Info("socketcan_open", "if", cfg.canIf)
		return dev, func() { _ = dev.Close() }, nil
	case "loopback":
		lb := bus.NewLoopbackBus()
		ep := lb.Open(cfg.loopbackEcho)
		l.Info("loopback_open", "echo", cfg.loopbackEcho)
		return ep, func() { _ = ep.Close(); _ = lb.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use socketcan|loopback)", cfg.backend)
	}
}

// startBusRX reads frames from dev and hands each to handle until ctx is
// done or the device is closed.
func startBusRX(ctx context.Context, dev bus.Device, handle func(can.Frame), l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("bus_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil || errors.Is(err, bus.ErrClosed) {
					return
				}
				metrics.IncError(metrics.ErrBusRead)
				l.Warn("bus_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			handle(fr)
			backoff = rxBackoffMin
		}
	}()
}
