package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/bridge"
	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/hub"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/server"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l, closeLog := setupLogger(cfg.logFormat, cfg.logLevel, cfg.logFile)
	defer closeLog()
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	if err := run(cfg, l); err != nil {
		l.Error("startup_error", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// app holds the running components so shutdown can release them in order.
type app struct {
	cfg    *appConfig
	l      *slog.Logger
	hub    *hub.Hub
	dev    bus.Device
	mb     *bus.Mailbox
	br     *bridge.Bridge
	serial *serialHost
	srv    *server.Server
	wg     sync.WaitGroup

	closeDev func()
}

// start wires the bus device, bridge and host links. On error everything
// opened so far is released.
func (a *app) start(ctx context.Context, cancel context.CancelFunc) (err error) {
	defer func() {
		if err != nil {
			a.stop()
		}
	}()
	a.hub = initHub(a.cfg, a.l)
	a.dev, a.closeDev, err = initBusDevice(a.cfg, a.l)
	if err != nil {
		return err
	}
	a.mb = bus.NewMailbox(ctx, a.dev, bus.WithRetries(a.cfg.txRetries), bus.WithRetryDelay(mailboxRetryDelay))

	notify := transport.Fanout{a.hub}
	if a.cfg.serialDev != "" {
		a.serial, err = openSerialHost(ctx, a.cfg, a.l)
		if err != nil {
			return err
		}
		notify = append(notify, a.serial)
	}

	a.br = bridge.New(a.mb, notify, bridge.Options{
		AntiReplay:    a.cfg.antiReplay,
		Bidirectional: a.cfg.bidirectional,
	})
	a.l.Info("bridge_config", "anti_replay", a.cfg.antiReplay, "bidirectional", a.cfg.bidirectional, "tx_retries", a.cfg.txRetries)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.br.Run(ctx)
	}()
	startBusRX(ctx, a.dev, a.br.HandleBusFrame, a.l, &a.wg)
	if a.serial != nil {
		a.serial.start(ctx, a.br, a.l, &a.wg)
	}

	if a.cfg.listenAddr != "" {
		a.srv = server.NewServer(
			server.WithListenAddr(a.cfg.listenAddr),
			server.WithHub(a.hub),
			server.WithHost(a.br),
			server.WithLogger(a.l),
			server.WithMaxClients(a.cfg.maxClients),
			server.WithAcceptRate(a.cfg.acceptRate, 4),
			server.WithHandshakeTimeout(a.cfg.handshakeTO),
			server.WithReadDeadline(a.cfg.clientReadTO),
		)
		go func() {
			if err := a.srv.Serve(ctx); err != nil {
				a.l.Error("tcp_server_error", "error", err)
				cancel()
			}
		}()
		go a.advertise(ctx)
	}
	return nil
}

// advertise registers the TCP host link via mDNS once the listener is bound.
func (a *app) advertise(ctx context.Context) {
	if !a.cfg.mdnsEnable {
		return
	}
	select {
	case <-a.srv.Ready():
	case <-ctx.Done():
		return
	}
	port := portFromAddr(a.srv.Addr())
	cleanupMDNS, err := startMDNS(ctx, a.cfg, port)
	if err != nil {
		a.l.Warn("mdns_start_failed", "error", err)
		return
	}
	a.l.Info("mdns_started", "service", mdnsServiceType, "name", a.cfg.mdnsName, "port", port)
	go func() { <-ctx.Done(); cleanupMDNS() }()
}

// ready reports whether the host links are up and the bus is usable.
func (a *app) ready(ctx context.Context) bool {
	if ctx.Err() != nil || a.dev == nil || a.dev.BusOff() {
		return false
	}
	if a.srv != nil {
		select {
		case <-a.srv.Ready():
		default:
			return false
		}
	}
	return true
}

func (a *app) stop() {
	if a.br != nil {
		a.br.Close()
	}
	if a.srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.srv.Shutdown(sctx); err != nil {
			a.l.Warn("tcp_shutdown_error", "error", err)
		}
		scancel()
	}
	if a.serial != nil {
		a.serial.close()
	}
	if a.mb != nil {
		a.mb.Close()
	}
	if a.closeDev != nil {
		a.closeDev()
	}
	if !waitTimeout(&a.wg, shutdownTimeout) {
		a.l.Warn("shutdown_incomplete", "timeout", shutdownTimeout)
	}
}

func run(cfg *appConfig, l *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &app{cfg: cfg, l: l}
	if err := a.start(ctx, cancel); err != nil {
		return err
	}
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &a.wg)

	metrics.SetReadinessFunc(func() bool { return a.ready(ctx) })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	a.stop()
	logSnapshot(l, metrics.Snap())
	return nil
}

// waitTimeout waits for wg up to d and reports whether it finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
