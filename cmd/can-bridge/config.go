package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	configFile      string
	serialDev       string
	baud            int
	listenAddr      string
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	logFile         string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	backend         string
	canIf           string
	loopbackEcho    bool
	antiReplay      bool
	bidirectional   bool
	txRetries       int
	maxClients      int
	acceptRate      float64
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

// defaultConfig holds the values used when neither flag, env nor file sets a
// field.
func defaultConfig() *appConfig {
	return &appConfig{
		serialDev:     "/dev/ttyUSB0",
		baud:          115200,
		listenAddr:    ":20100",
		serialReadTO:  50 * time.Millisecond,
		logFormat:     "text",
		logLevel:      "info",
		hubBuffer:     512,
		hubPolicy:     "drop",
		backend:       "socketcan",
		canIf:         "can0",
		antiReplay:    true,
		bidirectional: true,
		txRetries:     100,
		acceptRate:    10,
		handshakeTO:   3 * time.Second,
		clientReadTO:  60 * time.Second,
	}
}

func parseFlags() (*appConfig, bool) {
	return parseArgs(flag.CommandLine, os.Args[1:])
}

// parseArgs applies, in increasing precedence: defaults, config file,
// CAN_BRIDGE_* environment, explicit flags.
func parseArgs(fs *flag.FlagSet, args []string) (*appConfig, bool) {
	cfg := defaultConfig()
	fs.StringVar(&cfg.configFile, "config", "", "Optional YAML config file")
	fs.StringVar(&cfg.serialDev, "serial", cfg.serialDev, "Host serial device path (empty disables the serial host link)")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Serial baud rate")
	fs.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "TCP host link listen address (empty disables)")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial read timeout")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.logFile, "log-file", "", "Also write logs to this file (size-rotated)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", cfg.hubBuffer, "Per-client notification buffer")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", cfg.hubPolicy, "Backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.StringVar(&cfg.backend, "backend", cfg.backend, "CAN backend: socketcan|loopback")
	fs.StringVar(&cfg.canIf, "can-if", cfg.canIf, "SocketCAN interface (when --backend=socketcan)")
	fs.BoolVar(&cfg.loopbackEcho, "loopback-echo", false, "Loopback backend receives its own transmissions")
	fs.BoolVar(&cfg.antiReplay, "anti-replay", cfg.antiReplay, "Append a sequence byte to sent frames and check it on received frames")
	fs.BoolVar(&cfg.bidirectional, "bidirectional", cfg.bidirectional, "Forward bus traffic to the host")
	fs.IntVar(&cfg.txRetries, "tx-retries", cfg.txRetries, "Attempts to claim the transmit mailbox before dropping a frame")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.Float64Var(&cfg.acceptRate, "accept-rate", cfg.acceptRate, "Maximum new TCP connections per second (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", cfg.handshakeTO, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", cfg.clientReadTO, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS advertisement of the TCP host link")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-bridge-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false
	}

	// Track which flags were explicitly set to give them precedence.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if cfg.configFile != "" {
		fc, err := loadConfigFile(cfg.configFile)
		if err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
		fc.apply(cfg, setFlags)
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "loopback":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.serialDev == "" && c.listenAddr == "" {
		return errors.New("no host link: set serial and/or listen")
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.txRetries < 0 {
		return fmt.Errorf("tx-retries must be >= 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.acceptRate < 0 {
		return fmt.Errorf("accept-rate must be >= 0")
	}
	return nil
}

const envPrefix = "CAN_BRIDGE_"

// applyEnvOverrides maps CAN_BRIDGE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Durations use time.ParseDuration format. The first parse error is returned.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
	}
	lookup := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(envPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := lookup(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, min int, dst *int) {
		if v, ok := lookup(flagName, key); ok {
			n, err := strconv.Atoi(v)
			if err == nil && n < min {
				err = fmt.Errorf("must be >= %d", min)
			}
			if err != nil {
				fail(key, err)
				return
			}
			*dst = n
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := lookup(flagName, key); ok {
			d, err := time.ParseDuration(v)
			if err == nil && d < 0 {
				err = errors.New("negative duration")
			}
			if err != nil {
				fail(key, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(flagName, key string, dst *bool) {
		if v, ok := lookup(flagName, key); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(key, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("serial", "SERIAL", &c.serialDev)
	num("baud", "BAUD", 1, &c.baud)
	str("listen", "LISTEN", &c.listenAddr)
	dur("serial-read-timeout", "SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("log-format", "LOG_FORMAT", &c.logFormat)
	str("log-level", "LOG_LEVEL", &c.logLevel)
	str("log-file", "LOG_FILE", &c.logFile)
	if _, ok := set["metrics-addr"]; !ok {
		// an empty value explicitly disables metrics
		if v, ok := os.LookupEnv(envPrefix + "METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	num("hub-buffer", "HUB_BUFFER", 1, &c.hubBuffer)
	str("hub-policy", "HUB_POLICY", &c.hubPolicy)
	dur("log-metrics-interval", "LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	str("backend", "BACKEND", &c.backend)
	str("can-if", "IF", &c.canIf)
	boolean("loopback-echo", "LOOPBACK_ECHO", &c.loopbackEcho)
	boolean("anti-replay", "ANTI_REPLAY", &c.antiReplay)
	boolean("bidirectional", "BIDIRECTIONAL", &c.bidirectional)
	num("tx-retries", "TX_RETRIES", 0, &c.txRetries)
	num("max-clients", "MAX_CLIENTS", 0, &c.maxClients)
	if v, ok := lookup("accept-rate", "ACCEPT_RATE"); ok {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 {
			c.acceptRate = r
		} else if err != nil {
			fail("ACCEPT_RATE", err)
		} else {
			fail("ACCEPT_RATE", errors.New("must be >= 0"))
		}
	}
	dur("handshake-timeout", "HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "CLIENT_READ_TIMEOUT", &c.clientReadTO)
	boolean("mdns-enable", "MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "MDNS_NAME", &c.mdnsName)
	return firstErr
}
