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
	nodeAddr        int
	backend         string
	canIf           string
	tcpHost         string
	tcpPort         int
	tcpServer       bool
	mode            string
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	nodeAddr := flag.Int("node-addr", 0x01, "This node's 6-bit address (0x00-0x3F)")
	backend := flag.String("backend", "local_queue", "Backend: native_can|spi_controller|local_queue|tcp_tunnel")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=native_can)")
	tcpHost := flag.String("tcp-host", "", "TCP tunnel host override (when --backend=tcp_tunnel)")
	tcpPort := flag.Int("tcp-port", 0, "TCP tunnel port override (when --backend=tcp_tunnel)")
	tcpServer := flag.Bool("tcp-server", false, "Run the TCP tunnel in server mode")
	mode := flag.String("mode", "rtacp-echo", "Demo mode: rtacp-echo|psacp-echo")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log a metrics snapshot")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of a tcp_tunnel server")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default artie-can-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.nodeAddr = *nodeAddr
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.tcpHost = *tcpHost
	cfg.tcpPort = *tcpPort
	cfg.tcpServer = *tcpServer
	cfg.mode = *mode
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

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

// validate performs semantic validation only; it never touches the
// network or filesystem.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.nodeAddr < 0 || c.nodeAddr > 0x3F {
		return fmt.Errorf("node-addr out of range: 0x%02X", c.nodeAddr)
	}
	switch c.backend {
	case "native_can", "spi_controller", "local_queue", "tcp_tunnel":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.mode {
	case "rtacp-echo", "psacp-echo":
	default:
		return fmt.Errorf("invalid mode: %s", c.mode)
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
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps ARTIE_CAN_* environment variables onto cfg
// unless the corresponding flag was explicitly set (flag wins over env).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["node-addr"]; !ok {
		if v, ok := get("ARTIE_CAN_NODE_ADDR"); ok && v != "" {
			n, err := strconv.ParseInt(v, 0, 32)
			if err == nil {
				c.nodeAddr = int(n)
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid ARTIE_CAN_NODE_ADDR: %w", err)
			}
		}
	}
	if _, ok := set["backend"]; !ok {
		if v, ok := get("ARTIE_CAN_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("ARTIE_CAN_IFACE"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["mode"]; !ok {
		if v, ok := get("ARTIE_CAN_MODE"); ok && v != "" {
			c.mode = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("ARTIE_CAN_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("ARTIE_CAN_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("ARTIE_CAN_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("ARTIE_CAN_LOG_METRICS_INTERVAL"); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid ARTIE_CAN_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("ARTIE_CAN_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("ARTIE_CAN_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	// ARTIE_CAN_MOCK_HOST/PORT/SERVER are read directly by
	// internal/backend/tcptunnel.ResolveConfig; this gateway only
	// forwards explicit flag values, never the env, to that layer.
	return firstErr
}
