// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// UnixListener accepts inbound connections from local processes over a
// Unix domain socket.
type UnixListener struct {
	socketPath string
	listener   net.Listener
}

// NewUnixListener creates a listener on the given socket path. Any
// stale socket file left behind by a previous run is removed first.
// The parent directory must exist.
func NewUnixListener(socketPath string) (*UnixListener, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &UnixListener{socketPath: socketPath, listener: listener}, nil
}

// Serve accepts connections and dispatches each to handle in its own
// goroutine. Blocks until ctx is cancelled or Close is called. The
// socket file is removed on return.
func (l *UnixListener) Serve(ctx context.Context, handle func(conn net.Conn)) error {
	defer os.Remove(l.socketPath)
	return serve(ctx, l.listener, handle)
}

// Address returns the socket path.
func (l *UnixListener) Address() string {
	return l.socketPath
}

// Close shuts down the Unix listener.
func (l *UnixListener) Close() error {
	return l.listener.Close()
}

// UnixDialer opens connections to a bus router's Unix socket.
type UnixDialer struct {
	// Timeout is the maximum time to wait for the connection to be
	// established. Zero means only the context deadline applies.
	Timeout time.Duration
}

// DialContext opens a connection to the Unix socket at address.
func (d *UnixDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "unix", address)
}
