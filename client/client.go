// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/hivemesh/hivemesh/proto"
	"github.com/hivemesh/hivemesh/transport"
)

// Config holds configuration for dialing a bus router.
type Config struct {
	// Network selects the transport: "tcp" or "unix". If empty,
	// "tcp" is used.
	Network string

	// Address is the router's address: "host:port" for TCP, the
	// socket path for Unix.
	Address string

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// MaxFrameBody bounds the body length of inbound frames. If zero,
	// proto.DefaultMaxBody is used.
	MaxFrameBody uint32

	// BroadcastBuffer is the channel depth for each subscribed topic.
	// Broadcasts beyond a full buffer are dropped, matching the bus's
	// best-effort fan-out. If zero, 16 is used.
	BroadcastBuffer int
}

// Conn is a client connection to a bus router. It is safe for
// concurrent use; one Conn carries any number of registered services,
// outstanding calls, and topic subscriptions.
type Conn struct {
	conn   net.Conn
	logger *slog.Logger

	maxBody         uint32
	broadcastBuffer int

	// writeMu serializes frame writes. Control requests hold it across
	// waiter enqueue and write so replies cannot cross between
	// concurrent requests of the same kind.
	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	err      error
	waiters  map[proto.MessageType][]chan proto.Message
	calls    map[string]*Stream
	handlers map[string]Handler
	topics   map[string]chan Broadcast

	// done closes when the connection starts tearing down; readDone
	// closes after the read loop has finished cleanup.
	done     chan struct{}
	readDone chan struct{}
}

// Dial connects to a bus router.
func Dial(ctx context.Context, config Config) (*Conn, error) {
	var dialer transport.Dialer
	switch config.Network {
	case "", "tcp":
		dialer = &transport.TCPDialer{}
	case "unix":
		dialer = &transport.UnixDialer{}
	default:
		return nil, fmt.Errorf("client: unsupported network %q", config.Network)
	}
	netConn, err := dialer.DialContext(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("client: dialing %s: %w", config.Address, err)
	}
	return NewConn(netConn, config), nil
}

// NewConn wraps an already-established connection to a router and
// starts its read loop. Dial is the usual entry point; NewConn exists
// for callers that manage their own transport.
func NewConn(conn net.Conn, config Config) *Conn {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := config.BroadcastBuffer
	if buffer <= 0 {
		buffer = 16
	}
	c := &Conn{
		conn:            conn,
		logger:          logger,
		maxBody:         config.MaxFrameBody,
		broadcastBuffer: buffer,
		waiters:         make(map[proto.MessageType][]chan proto.Message),
		calls:           make(map[string]*Stream),
		handlers:        make(map[string]Handler),
		topics:          make(map[string]chan Broadcast),
		done:            make(chan struct{}),
		readDone:        make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close tears down the connection. Outstanding calls and control
// requests fail with ErrClosed; subscription channels are closed.
// Close blocks until the read loop has finished cleanup.
func (c *Conn) Close() error {
	c.fail(ErrClosed)
	<-c.readDone
	return nil
}

// fail records the first fatal error and closes the socket, which
// unblocks the read loop. Idempotent.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
	c.mu.Unlock()
	c.conn.Close()
}

// closeErr returns the error the connection died with.
func (c *Conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

func (c *Conn) writeFrame(msg proto.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeFrameLocked(msg)
}

func (c *Conn) writeFrameLocked(msg proto.Message) error {
	if err := proto.WriteFrame(c.conn, msg); err != nil {
		c.fail(fmt.Errorf("client: connection lost: %w", err))
		return c.closeErr()
	}
	return nil
}

// roundTrip sends a control request and waits for the matching reply.
// The waiter is enqueued and the frame written under writeMu, so the
// FIFO order of waiters matches the order of requests on the wire. A
// waiter abandoned on ctx cancellation stays in the queue (its channel
// is buffered), keeping later waiters aligned with their replies.
func (c *Conn) roundTrip(ctx context.Context, request proto.Message, replyType proto.MessageType) (proto.Message, error) {
	ch := make(chan proto.Message, 1)

	c.writeMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return nil, c.closeErr()
	}
	c.waiters[replyType] = append(c.waiters[replyType], ch)
	c.mu.Unlock()
	err := c.writeFrameLocked(request)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, c.closeErr()
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closeErr()
	}
}

// deliverControl hands an uncorrelated reply to the oldest waiter for
// its type.
func (c *Conn) deliverControl(msg proto.Message) {
	c.mu.Lock()
	queue := c.waiters[msg.MessageType()]
	if len(queue) == 0 {
		c.mu.Unlock()
		c.logger.Warn("unsolicited reply from router", "type", msg.MessageType().String())
		return
	}
	ch := queue[0]
	c.waiters[msg.MessageType()] = queue[1:]
	c.mu.Unlock()
	ch <- msg
}

// readLoop demultiplexes every inbound frame. It is the only goroutine
// that sends on stream and topic channels, and the only one that closes
// waiter, stream, and topic channels, which it does during final
// cleanup after reading stops.
func (c *Conn) readLoop() {
	defer close(c.readDone)
	for {
		msg, err := proto.ReadFrame(c.conn, c.maxBody)
		if err != nil {
			if err == io.EOF {
				c.fail(fmt.Errorf("client: router closed the connection: %w", ErrClosed))
			} else {
				c.fail(fmt.Errorf("client: connection lost: %w", err))
			}
			c.cleanup()
			return
		}

		switch m := msg.(type) {
		case proto.RegisterReply, proto.UnregisterReply, proto.SubscribeReply,
			proto.UnsubscribeReply, proto.BroadcastReply:
			c.deliverControl(msg)
		case proto.CallReply:
			c.deliverCallReply(m)
		case proto.CallRequest:
			c.dispatchCall(m)
		case proto.BroadcastRequest:
			c.deliverBroadcast(m)
		case proto.Ping:
			if err := c.writeFrame(proto.Pong{}); err != nil {
				c.cleanup()
				return
			}
		case proto.Pong:
			// Stray pong, nothing outstanding to match it to.
		default:
			c.fail(fmt.Errorf("client: router sent unexpected %s", msg.MessageType()))
			c.cleanup()
			return
		}
	}
}

// cleanup fails everything still waiting on the dead connection.
func (c *Conn) cleanup() {
	c.mu.Lock()
	waiters := c.waiters
	calls := c.calls
	topics := c.topics
	c.waiters = nil
	c.calls = nil
	c.topics = nil
	c.handlers = nil
	c.mu.Unlock()

	for _, queue := range waiters {
		for _, ch := range queue {
			close(ch)
		}
	}
	for _, stream := range calls {
		close(stream.ch)
	}
	for _, ch := range topics {
		close(ch)
	}
}
