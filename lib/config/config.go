// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete muster tuning file.
type Config struct {
	// Listen configures where the master accepts workers.
	Listen ListenConfig `yaml:"listen"`

	// Barrier configures the rendezvous phase.
	Barrier BarrierConfig `yaml:"barrier"`

	// KeepAlive configures heartbeats from master to workers.
	KeepAlive KeepAliveConfig `yaml:"keepalive"`

	// Connect configures how workers reach the master.
	Connect ConnectConfig `yaml:"connect"`

	// Workload configures child process supervision.
	Workload WorkloadConfig `yaml:"workload"`

	// Artifacts configures input and output bundles.
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`
}

// ListenConfig configures the master's listening socket.
type ListenConfig struct {
	// BindHost is the host the master binds. Empty means the master
	// address given on the command line.
	BindHost string `yaml:"bind_host"`

	// Port, when non-zero, overrides the port derived from the job id.
	// Every node must agree on it.
	Port int `yaml:"port"`

	// PortBase and PortSpan define the range [PortBase, PortBase+PortSpan)
	// that job ids hash into.
	PortBase int `yaml:"port_base"`
	PortSpan int `yaml:"port_span"`
}

// BarrierConfig configures the rendezvous.
type BarrierConfig struct {
	// Timeout bounds accepting every worker plus the ready/go round.
	// Zero waits forever: a worker that never arrives stalls the job.
	Timeout time.Duration `yaml:"timeout"`

	// HandshakeTimeout bounds how long an accepted connection may take
	// to identify itself before the master drops it.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// KeepAliveConfig configures the master's heartbeat loop.
type KeepAliveConfig struct {
	// Interval is the time between heartbeat rounds.
	Interval time.Duration `yaml:"interval"`

	// WriteTimeout bounds every master-to-worker write so one wedged
	// worker cannot block a heartbeat round or termination broadcast.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ConnectConfig configures the worker's dial loop.
type ConnectConfig struct {
	// Attempts is the number of dials before the worker gives up.
	Attempts int `yaml:"attempts"`

	// Backoff is the fixed wait between failed dials.
	Backoff time.Duration `yaml:"backoff"`

	// DialTimeout bounds a single dial.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// IdleTimeout, when non-zero, makes a worker treat a master that
	// has sent nothing (not even a heartbeat) for this long as gone.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// WorkloadConfig configures the launched child process.
type WorkloadConfig struct {
	// SettleDelay is the pause after the child starts before the
	// launcher returns.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// StopGrace is the time between SIGTERM and SIGKILL when the
	// child's process group is cancelled.
	StopGrace time.Duration `yaml:"stop_grace"`
}

// ArtifactsConfig configures artifact bundles.
type ArtifactsConfig struct {
	// Compression is the codec for uploaded bundles: zstd, lz4, none.
	Compression string `yaml:"compression"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is auto, json, or text. Auto picks text when stderr is a
	// terminal.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			PortBase: 10000,
			PortSpan: 40000,
		},
		Barrier: BarrierConfig{
			HandshakeTimeout: 30 * time.Second,
		},
		KeepAlive: KeepAliveConfig{
			Interval:     10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Connect: ConnectConfig{
			Attempts:    30,
			Backoff:     10 * time.Second,
			DialTimeout: 10 * time.Second,
		},
		Workload: WorkloadConfig{
			SettleDelay: 200 * time.Millisecond,
			StopGrace:   10 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			Compression: "zstd",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by MUSTER_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("MUSTER_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("MUSTER_CONFIG environment variable not set; " +
			"set it to the path of a muster.yaml file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile overlays the YAML file at path on Default and validates the
// result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Listen.PortBase < 1 {
		errs = append(errs, fmt.Errorf("listen.port_base must be positive, got %d", c.Listen.PortBase))
	}
	if c.Listen.PortSpan < 1 {
		errs = append(errs, fmt.Errorf("listen.port_span must be positive, got %d", c.Listen.PortSpan))
	}
	if c.Listen.PortBase+c.Listen.PortSpan > 65536 {
		errs = append(errs, fmt.Errorf("listen.port_base + listen.port_span exceeds 65536"))
	}
	if c.Barrier.Timeout < 0 {
		errs = append(errs, fmt.Errorf("barrier.timeout must not be negative"))
	}
	if c.Barrier.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("barrier.handshake_timeout must be positive"))
	}
	if c.KeepAlive.Interval <= 0 {
		errs = append(errs, fmt.Errorf("keepalive.interval must be positive"))
	}
	if c.KeepAlive.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("keepalive.write_timeout must not be negative"))
	}
	if c.Connect.Attempts < 1 {
		errs = append(errs, fmt.Errorf("connect.attempts must be at least 1, got %d", c.Connect.Attempts))
	}
	if c.Connect.Backoff < 0 || c.Connect.DialTimeout < 0 || c.Connect.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect durations must not be negative"))
	}
	if c.Connect.IdleTimeout > 0 && c.Connect.IdleTimeout <= c.KeepAlive.Interval {
		errs = append(errs, fmt.Errorf("connect.idle_timeout %v must exceed keepalive.interval %v", c.Connect.IdleTimeout, c.KeepAlive.Interval))
	}
	if c.Workload.SettleDelay < 0 || c.Workload.StopGrace < 0 {
		errs = append(errs, fmt.Errorf("workload durations must not be negative"))
	}
	switch c.Artifacts.Compression {
	case "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("artifacts.compression %q is not one of zstd, lz4, none", c.Artifacts.Compression))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "auto", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of auto, json, text", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", name)
}
