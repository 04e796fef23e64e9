// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hivemesh/hivemesh/proto"
)

// Handler serves calls routed to a registered service. The address is
// the caller's full address, so a service registered for a prefix can
// dispatch on the sub-path. Every call must be finished with exactly
// one ReplyWriter.Full or ReplyWriter.Fail; an unfinished call sits in
// the router's pending table until its deadline fails it.
//
// Handlers run in their own goroutine, one per call.
type Handler func(address string, data []byte, reply *ReplyWriter)

// ReplyWriter sends the reply stream for one inbound call.
type ReplyWriter struct {
	conn      *Conn
	requestID string

	mu   sync.Mutex
	done bool
}

// Partial sends a streamed reply chunk. More chunks, and eventually a
// terminal Full or Fail, must follow.
func (w *ReplyWriter) Partial(data []byte) error {
	return w.send(proto.CallOK, proto.Partial, data)
}

// Full sends the terminal reply, completing the call.
func (w *ReplyWriter) Full(data []byte) error {
	return w.send(proto.CallOK, proto.Full, data)
}

// Fail completes the call with a service failure carrying message as
// the payload.
func (w *ReplyWriter) Fail(message string) error {
	return w.send(proto.CallServiceFailure, proto.Full, []byte(message))
}

func (w *ReplyWriter) send(code proto.CallCode, replyType proto.ReplyType, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return fmt.Errorf("client: call %s already completed", w.requestID)
	}
	if replyType == proto.Full {
		w.done = true
	}
	return w.conn.writeFrame(proto.CallReply{
		RequestID: w.requestID,
		Code:      code,
		ReplyType: replyType,
		Data:      data,
	})
}

// Register claims serviceID on the router and installs handler for the
// calls routed to it. The handler is in place before the request is
// sent, so a call racing the registration reply is still served.
func (c *Conn) Register(ctx context.Context, serviceID string, handler Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closeErr()
	}
	c.handlers[serviceID] = handler
	c.mu.Unlock()

	msg, err := c.roundTrip(ctx, proto.RegisterRequest{ServiceID: serviceID}, proto.TypeRegisterReply)
	if err == nil {
		reply := msg.(proto.RegisterReply)
		if reply.Code != proto.RegisteredOK {
			err = &ReplyError{Op: "register " + serviceID, Code: int32(reply.Code), Message: reply.Message}
		}
	}
	if err != nil {
		c.mu.Lock()
		if !c.closed {
			delete(c.handlers, serviceID)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unregister releases serviceID and removes its handler.
func (c *Conn) Unregister(ctx context.Context, serviceID string) error {
	msg, err := c.roundTrip(ctx, proto.UnregisterRequest{ServiceID: serviceID}, proto.TypeUnregisterReply)
	if err != nil {
		return err
	}
	reply := msg.(proto.UnregisterReply)
	if reply.Code != proto.UnregisteredOK {
		return &ReplyError{Op: "unregister " + serviceID, Code: int32(reply.Code)}
	}
	c.mu.Lock()
	if !c.closed {
		delete(c.handlers, serviceID)
	}
	c.mu.Unlock()
	return nil
}

// dispatchCall routes an inbound call to the handler with the longest
// registered prefix of its address, mirroring how the router resolved
// it. Runs on the read loop; the handler itself gets a goroutine.
func (c *Conn) dispatchCall(request proto.CallRequest) {
	writer := &ReplyWriter{conn: c, requestID: request.RequestID}

	c.mu.Lock()
	var handler Handler
	best := -1
	for serviceID, h := range c.handlers {
		if request.Address != serviceID && !strings.HasPrefix(request.Address, serviceID+"/") {
			continue
		}
		if len(serviceID) > best {
			best = len(serviceID)
			handler = h
		}
	}
	c.mu.Unlock()

	if handler == nil {
		c.logger.Warn("call for unhandled address", "address", request.Address)
		if err := writer.Fail(fmt.Sprintf("no handler for %q", request.Address)); err != nil {
			c.logger.Warn("failing unhandled call", "error", err)
		}
		return
	}
	go handler(request.Address, request.Data, writer)
}

// Stream is the reply stream of one outbound call.
type Stream struct {
	conn      *Conn
	requestID string
	ch        chan proto.CallReply
	finished  bool
}

// RequestID returns the call's request id.
func (s *Stream) RequestID() string { return s.requestID }

// Next returns the next reply chunk. final reports that this chunk
// terminates the stream. A failure reported by the service or
// synthesized by the router is returned as a *CallError; the stream is
// finished after any error except ctx cancellation.
func (s *Stream) Next(ctx context.Context) (data []byte, final bool, err error) {
	select {
	case reply, ok := <-s.ch:
		if !ok {
			if s.finished {
				return nil, true, ErrStreamDone
			}
			return nil, true, s.conn.closeErr()
		}
		if reply.ReplyType == proto.Full {
			s.finished = true
		}
		if reply.Code != proto.CallOK {
			return nil, true, &CallError{Code: reply.Code, Message: string(reply.Data)}
		}
		return reply.Data, reply.ReplyType == proto.Full, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// CallStream invokes the service at address and returns the reply
// stream. The caller must drain the stream: an unconsumed stream stalls
// the connection's read loop once its buffer fills.
func (c *Conn) CallStream(ctx context.Context, address string, data []byte) (*Stream, error) {
	stream := &Stream{
		conn:      c,
		requestID: uuid.NewString(),
		ch:        make(chan proto.CallReply, 16),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr()
	}
	c.calls[stream.requestID] = stream
	c.mu.Unlock()

	request := proto.ServiceCallRequest{
		Address:   address,
		RequestID: stream.requestID,
		Data:      data,
	}
	if err := c.writeFrame(request); err != nil {
		c.mu.Lock()
		if !c.closed {
			delete(c.calls, stream.requestID)
		}
		c.mu.Unlock()
		return nil, err
	}
	return stream, nil
}

// Call invokes the service at address and returns the reply payload,
// concatenating streamed chunks in order. It blocks until the terminal
// reply or ctx cancellation.
func (c *Conn) Call(ctx context.Context, address string, data []byte) ([]byte, error) {
	stream, err := c.CallStream(ctx, address, data)
	if err != nil {
		return nil, err
	}
	var result []byte
	for {
		chunk, final, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		result = append(result, chunk...)
		if final {
			return result, nil
		}
	}
}

// deliverCallReply routes a reply chunk to its stream by request id.
// Runs on the read loop. After the terminal chunk the stream's entry
// is dropped and its channel closed.
func (c *Conn) deliverCallReply(reply proto.CallReply) {
	c.mu.Lock()
	stream := c.calls[reply.RequestID]
	terminal := reply.ReplyType == proto.Full
	if stream != nil && terminal {
		delete(c.calls, reply.RequestID)
	}
	c.mu.Unlock()

	if stream == nil {
		c.logger.Debug("reply for unknown request", "request_id", reply.RequestID)
		return
	}
	select {
	case stream.ch <- reply:
	case <-c.done:
		return
	}
	if terminal {
		close(stream.ch)
	}
}
