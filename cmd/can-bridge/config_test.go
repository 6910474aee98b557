package main

import (
	"flag"
	"io"
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		serialDev:    "/dev/null",
		baud:         115200,
		listenAddr:   ":20100",
		serialReadTO: 10 * time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    8,
		hubPolicy:    "drop",
		backend:      "loopback",
		canIf:        "can0",
		txRetries:    10,
		maxClients:   0,
		handshakeTO:  time.Second,
		clientReadTO: time.Second,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	if err := defaultConfig().validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "serial" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badRetries", func(c *appConfig) { c.txRetries = -1 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badAcceptRate", func(c *appConfig) { c.acceptRate = -1 }},
		{"noHostLink", func(c *appConfig) { c.serialDev = ""; c.listenAddr = "" }},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("can-bridge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseArgs_Flags(t *testing.T) {
	cfg, showVersion := parseArgs(newFlagSet(), []string{
		"-backend", "loopback", "-anti-replay=false", "-bidirectional=false", "-serial", "", "-listen", "127.0.0.1:0",
	})
	if showVersion {
		t.Fatal("unexpected version flag")
	}
	if cfg == nil {
		t.Fatal("nil config")
	}
	if cfg.backend != "loopback" || cfg.antiReplay || cfg.bidirectional || cfg.serialDev != "" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestParseArgs_Invalid(t *testing.T) {
	if cfg, _ := parseArgs(newFlagSet(), []string{"-backend", "bogus"}); cfg != nil {
		t.Fatal("expected nil config for invalid backend")
	}
	if cfg, _ := parseArgs(newFlagSet(), []string{"-no-such-flag"}); cfg != nil {
		t.Fatal("expected nil config for unknown flag")
	}
}

func TestParseArgs_Version(t *testing.T) {
	_, showVersion := parseArgs(newFlagSet(), []string{"-version"})
	if !showVersion {
		t.Fatal("expected version flag")
	}
}
