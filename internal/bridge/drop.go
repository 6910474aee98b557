package bridge

import (
	"errors"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"golang.org/x/time/rate"
)

// dropReporter counts every dropped transmission and logs a bounded number
// of them.
type dropReporter struct {
	lim *rate.Limiter
}

func newDropReporter() *dropReporter {
	return &dropReporter{lim: rate.NewLimiter(rate.Every(time.Second), 5)}
}

func (r *dropReporter) report(path string, fr can.Frame, err error) {
	metrics.IncBusDropped(dropReason(err))
	if r.lim.Allow() {
		logging.L().Warn("bus_tx_dropped", "path", path, "id", fr.ID, "ext", fr.Extended, "error", err)
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, bus.ErrMailboxBusy):
		return metrics.DropBusy
	case errors.Is(err, bus.ErrBusOff):
		return metrics.DropBusOff
	case errors.Is(err, bus.ErrClosed):
		return metrics.DropClosed
	default:
		return metrics.DropOther
	}
}
