// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Hivemesh
// components.
//
// Configuration is loaded from a single file specified by:
//   - HIVEMESH_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// Flags parsed by the binary take precedence over file values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Router is the configuration for the service bus router daemon.
type Router struct {
	// TCPListen is the TCP listen address for remote peers
	// (e.g., ":7477" or "192.168.1.10:7477"). Empty disables TCP.
	TCPListen string `yaml:"tcp_listen"`

	// UnixSocket is the Unix domain socket path for local
	// interprocess peers. Empty disables the Unix listener.
	UnixSocket string `yaml:"unix_socket"`

	// PingInterval is how long a session may stay silent before the
	// supervisor sends it a ping. Default 60s.
	PingInterval Duration `yaml:"ping_interval"`

	// DisconnectThreshold is how long a session may stay silent
	// before the supervisor disconnects it. Default 120s.
	DisconnectThreshold Duration `yaml:"disconnect_threshold"`

	// CallTimeout bounds the lifetime of a pending call whose target
	// never sends a terminal reply. Default 90s.
	CallTimeout Duration `yaml:"call_timeout"`

	// WriteQueueDepth is the per-session outbound frame queue depth.
	// A session that overflows its queue is disconnected rather than
	// allowed to stall delivery to others. Default 256.
	WriteQueueDepth int `yaml:"write_queue_depth"`

	// MaxFrameBody is the largest message body, in bytes, the router
	// will accept or emit. Default 16 MiB.
	MaxFrameBody uint32 `yaml:"max_frame_body"`

	// LogLevel is one of debug, info, warn, error. Default info.
	LogLevel string `yaml:"log_level"`
}

// DefaultRouter returns the router configuration defaults.
func DefaultRouter() Router {
	return Router{
		TCPListen:           ":7477",
		UnixSocket:          "/run/hivemesh/bus.sock",
		PingInterval:        Duration(60 * time.Second),
		DisconnectThreshold: Duration(120 * time.Second),
		CallTimeout:         Duration(90 * time.Second),
		WriteQueueDepth:     256,
		MaxFrameBody:        16 << 20,
		LogLevel:            "info",
	}
}

// LoadRouter reads router configuration from path. When path is empty,
// the HIVEMESH_CONFIG environment variable is consulted; when that is
// also empty, the defaults are returned unchanged. File values are
// merged over the defaults, so a partial file is valid.
func LoadRouter(path string) (Router, error) {
	cfg := DefaultRouter()

	if path == "" {
		path = os.Getenv("HIVEMESH_CONFIG")
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Router{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Router{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Router{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the router cannot run with.
func (c Router) Validate() error {
	if c.TCPListen == "" && c.UnixSocket == "" {
		return fmt.Errorf("at least one of tcp_listen and unix_socket must be set")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %s", c.PingInterval)
	}
	if c.DisconnectThreshold <= Duration(0) || c.DisconnectThreshold < c.PingInterval {
		return fmt.Errorf("disconnect_threshold (%s) must be at least ping_interval (%s)",
			c.DisconnectThreshold, c.PingInterval)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout)
	}
	if c.WriteQueueDepth <= 0 {
		return fmt.Errorf("write_queue_depth must be positive, got %d", c.WriteQueueDepth)
	}
	if c.MaxFrameBody == 0 {
		return fmt.Errorf("max_frame_body must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}

// Duration is a time.Duration that parses from YAML strings like
// "90s" or "2m". yaml.v3 has no native duration support.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }
