// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

// Hivemesh-router is the service bus daemon. It accepts peer
// connections on a TCP address and a Unix domain socket, routes calls
// to registered services by longest prefix, fans out broadcasts to
// topic subscribers, and disconnects peers that stop answering pings.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hivemesh/hivemesh/lib/clock"
	"github.com/hivemesh/hivemesh/lib/config"
	"github.com/hivemesh/hivemesh/lib/version"
	"github.com/hivemesh/hivemesh/router"
	"github.com/hivemesh/hivemesh/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath          string
		tcpListen           string
		unixSocket          string
		pingInterval        time.Duration
		disconnectThreshold time.Duration
		callTimeout         time.Duration
		logLevel            string
		showVersion         bool
	)

	flag.StringVar(&configPath, "config", "", "path to YAML config file (or HIVEMESH_CONFIG)")
	flag.StringVar(&tcpListen, "tcp-listen", "", "TCP listen address for remote peers (empty string disables TCP)")
	flag.StringVar(&unixSocket, "unix-socket", "", "Unix socket path for local peers (empty string disables)")
	flag.DurationVar(&pingInterval, "ping-interval", 0, "silence before an idle session is pinged")
	flag.DurationVar(&disconnectThreshold, "disconnect-threshold", 0, "silence before an unresponsive session is disconnected")
	flag.DurationVar(&callTimeout, "call-timeout", 0, "lifetime of a call with no terminal reply")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("hivemesh-router %s\n", version.Info())
		return nil
	}

	cfg, err := config.LoadRouter(configPath)
	if err != nil {
		return err
	}

	// Flags set on the command line override file values. Visit only
	// reports flags the user actually passed, so zero values can still
	// be used to disable a listener explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tcp-listen":
			cfg.TCPListen = tcpListen
		case "unix-socket":
			cfg.UnixSocket = unixSocket
		case "ping-interval":
			cfg.PingInterval = config.Duration(pingInterval)
		case "disconnect-threshold":
			cfg.DisconnectThreshold = config.Duration(disconnectThreshold)
		case "call-timeout":
			cfg.CallTimeout = config.Duration(callTimeout)
		case "log-level":
			cfg.LogLevel = logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := router.New(router.Config{
		PingInterval:        cfg.PingInterval.Std(),
		DisconnectThreshold: cfg.DisconnectThreshold.Std(),
		CallTimeout:         cfg.CallTimeout.Std(),
		WriteQueueDepth:     cfg.WriteQueueDepth,
		MaxFrameBody:        cfg.MaxFrameBody,
	}, logger, clock.Real())

	var listeners []transport.Listener
	if cfg.TCPListen != "" {
		tcp, err := transport.NewTCPListener(cfg.TCPListen)
		if err != nil {
			return fmt.Errorf("starting TCP listener: %w", err)
		}
		defer tcp.Close()
		listeners = append(listeners, tcp)
		logger.Info("listening", "transport", "tcp", "address", tcp.Address())
	}
	if cfg.UnixSocket != "" {
		unix, err := transport.NewUnixListener(cfg.UnixSocket)
		if err != nil {
			return fmt.Errorf("starting Unix listener: %w", err)
		}
		defer unix.Close()
		listeners = append(listeners, unix)
		logger.Info("listening", "transport", "unix", "address", unix.Address())
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, listener := range listeners {
		listener := listener
		group.Go(func() error {
			return listener.Serve(ctx, func(conn net.Conn) {
				bus.HandleConn(conn)
			})
		})
	}
	group.Go(func() error {
		return bus.Run(ctx)
	})

	logger.Info("router started", "version", version.Info())
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}
