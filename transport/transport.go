// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the stream transports the service bus
// runs over. Two address families carry the identical framed protocol:
// TCP for remote peers and Unix domain sockets for local interprocess
// peers. The router is transport-agnostic; it receives accepted
// net.Conn values and never dials.
package transport

import (
	"context"
	"net"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Listener = (*UnixListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
	_ Dialer   = (*UnixDialer)(nil)
)

// Listener accepts inbound bus connections and hands each one to a
// handler. The handler owns the connection and is responsible for
// closing it.
type Listener interface {
	// Serve accepts connections and invokes handle in a new
	// goroutine per connection. Blocks until ctx is cancelled or
	// Close is called; returns nil on clean shutdown. Serve does not
	// wait for handlers to finish; connection teardown is the
	// router's job.
	Serve(ctx context.Context, handle func(conn net.Conn)) error

	// Address returns the listener's bound address: "host:port" for
	// TCP, the socket path for Unix.
	Address() string

	// Close shuts down the listener. Safe to call more than once.
	Close() error
}

// Dialer opens outbound connections to a bus router. Used by the
// client library; the address format matches the corresponding
// Listener's Address().
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}
