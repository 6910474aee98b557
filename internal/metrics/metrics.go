package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	HostRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_rx_bytes_total",
		Help: "Total bytes received from host links (serial and TCP).",
	})
	HostCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_commands_total",
		Help: "Total complete host commands dispatched.",
	})
	HostTxNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_tx_notifications_total",
		Help: "Total bus frame notifications written to the serial host link.",
	})
	BusRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_rx_frames_total",
		Help: "Total CAN frames received from the bus.",
	})
	BusTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_tx_frames_total",
		Help: "Total CAN frames written to the bus.",
	})
	BusTxDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_tx_dropped_total",
		Help: "Transmissions dropped before reaching the bus, by reason.",
	}, []string{"reason"})
	RepeatTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repeat_ticks_total",
		Help: "Total repeat scheduler ticks that attempted a transmission.",
	})
	RepeatArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "repeat_armed",
		Help: "1 while a repeating frame is armed, 0 otherwise.",
	})
	ReplaySuspected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_suspected_total",
		Help: "Total inbound frames flagged as suspected replays.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_notifications_total",
		Help: "Total notifications dropped by hub due to slow TCP clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (max-clients, rate limit).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued notifications among clients in last sample.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued notifications per client in last sample.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total host requests discarded (invalid mode, oversize length, buffer overflow).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrBusWrite       = "bus_write"
	ErrBusRead        = "bus_read"
)

// Drop reasons for BusTxDropped.
const (
	DropBusy   = "busy"
	DropBusOff = "bus_off"
	DropClosed = "closed"
	DropOther  = "other"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localHostRxBytes uint64
	localCommands    uint64
	localHostTx      uint64
	localBusRx       uint64
	localBusTx       uint64
	localBusDropped  uint64
	localRepeatTicks uint64
	localRepeatArmed uint64
	localReplay      uint64
	localHubDrop     uint64
	localHubKick     uint64
	localHubReject   uint64
	localErrors      uint64
	localHubClients  uint64
	localFanout      uint64
	localMalformed   uint64
	localQDMax       uint64
	localQDAvg       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	HostRxBytes     uint64
	Commands        uint64
	HostTx          uint64
	BusRx           uint64
	BusTx           uint64
	BusDropped      uint64
	RepeatTicks     uint64
	RepeatArmed     uint64
	ReplaySuspected uint64
	HubDrops        uint64
	HubKicks        uint64
	HubRejects      uint64
	Errors          uint64 // sum across error labels
	HubClients      uint64
	Fanout          uint64
	Malformed       uint64
	QueueDepthMax   uint64
	QueueDepthAvg   uint64
}

func Snap() Snapshot {
	return Snapshot{
		HostRxBytes:     atomic.LoadUint64(&localHostRxBytes),
		Commands:        atomic.LoadUint64(&localCommands),
		HostTx:          atomic.LoadUint64(&localHostTx),
		BusRx:           atomic.LoadUint64(&localBusRx),
		BusTx:           atomic.LoadUint64(&localBusTx),
		BusDropped:      atomic.LoadUint64(&localBusDropped),
		RepeatTicks:     atomic.LoadUint64(&localRepeatTicks),
		RepeatArmed:     atomic.LoadUint64(&localRepeatArmed),
		ReplaySuspected: atomic.LoadUint64(&localReplay),
		HubDrops:        atomic.LoadUint64(&localHubDrop),
		HubKicks:        atomic.LoadUint64(&localHubKick),
		HubRejects:      atomic.LoadUint64(&localHubReject),
		Errors:          atomic.LoadUint64(&localErrors),
		HubClients:      atomic.LoadUint64(&localHubClients),
		Fanout:          atomic.LoadUint64(&localFanout),
		Malformed:       atomic.LoadUint64(&localMalformed),
		QueueDepthMax:   atomic.LoadUint64(&localQDMax),
		QueueDepthAvg:   atomic.LoadUint64(&localQDAvg),
	}
}

// Wrapper helpers to keep call sites simple.
func AddHostRxBytes(n int) {
	HostRxBytes.Add(float64(n))
	atomic.AddUint64(&localHostRxBytes, uint64(n))
}

func IncCommand() {
	HostCommands.Inc()
	atomic.AddUint64(&localCommands, 1)
}

func IncHostTx() {
	HostTxNotifications.Inc()
	atomic.AddUint64(&localHostTx, 1)
}

func IncBusRx() {
	BusRxFrames.Inc()
	atomic.AddUint64(&localBusRx, 1)
}

func IncBusTx() {
	BusTxFrames.Inc()
	atomic.AddUint64(&localBusTx, 1)
}

// IncBusDropped counts a transmission dropped for reason (see Drop*).
func IncBusDropped(reason string) {
	BusTxDropped.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localBusDropped, 1)
}

func IncRepeatTick() {
	RepeatTicks.Inc()
	atomic.AddUint64(&localRepeatTicks, 1)
}

// SetRepeatArmed records whether a repeating frame is armed.
func SetRepeatArmed(armed bool) {
	var v uint64
	if armed {
		v = 1
	}
	RepeatArmed.Set(float64(v))
	atomic.StoreUint64(&localRepeatArmed, v)
}

func IncReplaySuspected() {
	ReplaySuspected.Inc()
	atomic.AddUint64(&localReplay, 1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrBusWrite, ErrBusRead,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, r := range []string{DropBusy, DropBusOff, DropClosed, DropOther} {
		BusTxDropped.WithLabelValues(r).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
