package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"host_rx_bytes", snap.HostRxBytes,
		"commands", snap.Commands,
		"malformed", snap.Malformed,
		"bus_tx", snap.BusTx,
		"bus_rx", snap.BusRx,
		"bus_dropped", snap.BusDropped,
		"repeat_ticks", snap.RepeatTicks,
		"repeat_armed", snap.RepeatArmed,
		"replay_suspected", snap.ReplaySuspected,
		"host_tx", snap.HostTx,
		"hub_clients", snap.HubClients,
		"hub_drops", snap.HubDrops,
		"errors", snap.Errors,
	)
}
