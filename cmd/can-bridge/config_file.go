package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors appConfig for the optional YAML file. Pointer fields
// distinguish "absent" from zero values.
type fileConfig struct {
	Serial             *string   `yaml:"serial"`
	Baud               *int      `yaml:"baud"`
	Listen             *string   `yaml:"listen"`
	SerialReadTimeout  *duration `yaml:"serial_read_timeout"`
	LogFormat          *string   `yaml:"log_format"`
	LogLevel           *string   `yaml:"log_level"`
	LogFile            *string   `yaml:"log_file"`
	MetricsAddr        *string   `yaml:"metrics_addr"`
	HubBuffer          *int      `yaml:"hub_buffer"`
	HubPolicy          *string   `yaml:"hub_policy"`
	LogMetricsInterval *duration `yaml:"log_metrics_interval"`
	Backend            *string   `yaml:"backend"`
	CANIf              *string   `yaml:"can_if"`
	LoopbackEcho       *bool     `yaml:"loopback_echo"`
	AntiReplay         *bool     `yaml:"anti_replay"`
	Bidirectional      *bool     `yaml:"bidirectional"`
	TxRetries          *int      `yaml:"tx_retries"`
	MaxClients         *int      `yaml:"max_clients"`
	AcceptRate         *float64  `yaml:"accept_rate"`
	HandshakeTimeout   *duration `yaml:"handshake_timeout"`
	ClientReadTimeout  *duration `yaml:"client_read_timeout"`
	MDNSEnable         *bool     `yaml:"mdns_enable"`
	MDNSName           *string   `yaml:"mdns_name"`
}

// duration accepts Go duration strings ("250ms", "3s").
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = duration(v)
	return nil
}

func loadConfigFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConfigFile(b)
}

func parseConfigFile(b []byte) (*fileConfig, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &fc, nil
}

// apply copies present fields into c unless the flag was set explicitly.
func (fc *fileConfig) apply(c *appConfig, set map[string]struct{}) {
	has := func(name string) bool { _, ok := set[name]; return ok }
	setStr := func(name string, v *string, dst *string) {
		if v != nil && !has(name) {
			*dst = *v
		}
	}
	setInt := func(name string, v *int, dst *int) {
		if v != nil && !has(name) {
			*dst = *v
		}
	}
	setBool := func(name string, v *bool, dst *bool) {
		if v != nil && !has(name) {
			*dst = *v
		}
	}
	setDur := func(name string, v *duration, dst *time.Duration) {
		if v != nil && !has(name) {
			*dst = time.Duration(*v)
		}
	}
	setStr("serial", fc.Serial, &c.serialDev)
	setInt("baud", fc.Baud, &c.baud)
	setStr("listen", fc.Listen, &c.listenAddr)
	setDur("serial-read-timeout", fc.SerialReadTimeout, &c.serialReadTO)
	setStr("log-format", fc.LogFormat, &c.logFormat)
	setStr("log-level", fc.LogLevel, &c.logLevel)
	setStr("log-file", fc.LogFile, &c.logFile)
	setStr("metrics-addr", fc.MetricsAddr, &c.metricsAddr)
	setInt("hub-buffer", fc.HubBuffer, &c.hubBuffer)
	setStr("hub-policy", fc.HubPolicy, &c.hubPolicy)
	setDur("log-metrics-interval", fc.LogMetricsInterval, &c.logMetricsEvery)
	setStr("backend", fc.Backend, &c.backend)
	setStr("can-if", fc.CANIf, &c.canIf)
	setBool("loopback-echo", fc.LoopbackEcho, &c.loopbackEcho)
	setBool("anti-replay", fc.AntiReplay, &c.antiReplay)
	setBool("bidirectional", fc.Bidirectional, &c.bidirectional)
	setInt("tx-retries", fc.TxRetries, &c.txRetries)
	setInt("max-clients", fc.MaxClients, &c.maxClients)
	if fc.AcceptRate != nil && !has("accept-rate") {
		c.acceptRate = *fc.AcceptRate
	}
	setDur("handshake-timeout", fc.HandshakeTimeout, &c.handshakeTO)
	setDur("client-read-timeout", fc.ClientReadTimeout, &c.clientReadTO)
	setBool("mdns-enable", fc.MDNSEnable, &c.mdnsEnable)
	setStr("mdns-name", fc.MDNSName, &c.mdnsName)
}
