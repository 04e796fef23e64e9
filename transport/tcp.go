// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// TCPListener accepts inbound TCP connections from remote bus peers.
type TCPListener struct {
	listener net.Listener
}

// NewTCPListener creates a TCP listener on the specified address
// (e.g., ":7477" or "192.168.1.10:7477"). Use ":0" for a random
// available port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: listener}, nil
}

// Serve accepts TCP connections and dispatches each to handle in its
// own goroutine. Blocks until ctx is cancelled or Close is called.
func (l *TCPListener) Serve(ctx context.Context, handle func(conn net.Conn)) error {
	return serve(ctx, l.listener, handle)
}

// Address returns the bound TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the TCP listener.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// TCPDialer opens TCP connections to a bus router.
type TCPDialer struct {
	// Timeout is the maximum time to wait for the connection to be
	// established. Zero means only the context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to the given "host:port" address.
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
}

// serve is the accept loop shared by the TCP and Unix listeners.
// Cancelling ctx closes the inner listener, which unblocks Accept.
func serve(ctx context.Context, listener net.Listener, handle func(conn net.Conn)) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go handle(conn)
	}
}
