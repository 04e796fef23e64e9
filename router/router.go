// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hivemesh/hivemesh/lib/clock"
	"github.com/hivemesh/hivemesh/proto"
)

// Config carries the router's tunables. Zero values are replaced by
// the defaults documented on each field.
type Config struct {
	// PingInterval is how long a session may stay silent before the
	// supervisor pings it. Default 60s.
	PingInterval time.Duration

	// DisconnectThreshold is how long a session may stay silent
	// before the supervisor disconnects it. Default 120s.
	DisconnectThreshold time.Duration

	// CallTimeout bounds the lifetime of a pending call whose target
	// never sends a terminal reply. Default 90s.
	CallTimeout time.Duration

	// WriteQueueDepth is the per-session outbound frame queue depth.
	// Default 256.
	WriteQueueDepth int

	// MaxFrameBody is the largest frame body accepted from a peer.
	// Default proto.DefaultMaxBody.
	MaxFrameBody uint32
}

// drainTimeout bounds how long a draining session may take to flush
// its remaining queued frames before its transport is abandoned.
const drainTimeout = 5 * time.Second

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 60 * time.Second
	}
	if c.DisconnectThreshold <= 0 {
		c.DisconnectThreshold = 120 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 90 * time.Second
	}
	if c.WriteQueueDepth <= 0 {
		c.WriteQueueDepth = 256
	}
	if c.MaxFrameBody == 0 {
		c.MaxFrameBody = proto.DefaultMaxBody
	}
	return c
}

// Router is one service bus broker instance. Multiple instances can
// coexist (each owns its tables outright), which the tests rely on.
type Router struct {
	config Config
	logger *slog.Logger
	clock  clock.Clock

	// mu guards everything below, plus the mutable fields of every
	// session. Handlers enqueue outbound frames while holding it;
	// they never write to a socket.
	mu            sync.Mutex
	nextSessionID uint64
	sessions      map[uint64]*session
	table         *table
	topics        *topicRegistry
	calls         *callTable
}

// New creates a router. The logger and clock are required; tests
// inject clock.Fake to drive liveness deterministically.
func New(config Config, logger *slog.Logger, clk clock.Clock) *Router {
	return &Router{
		config:   config.withDefaults(),
		logger:   logger,
		clock:    clk,
		sessions: make(map[uint64]*session),
		table:    newTable(),
		topics:   newTopicRegistry(),
		calls:    newCallTable(),
	}
}

// HandleConn serves one accepted connection until the peer disconnects
// or is disconnected. It is the handler passed to transport listeners:
//
//	listener.Serve(ctx, router.HandleConn)
//
// The router takes ownership of conn and closes it.
func (r *Router) HandleConn(conn net.Conn) {
	s := r.attach(conn)
	go r.writeLoop(s)

	for {
		msg, err := proto.ReadFrame(conn, r.config.MaxFrameBody)
		if err != nil {
			r.disconnect(s, readCloseReason(err))
			return
		}
		r.handleMessage(s, msg)
	}
}

// readCloseReason classifies a read-loop error for the disconnect log.
func readCloseReason(err error) string {
	var framingErr *proto.FramingError
	switch {
	case errors.Is(err, io.EOF):
		return "peer closed connection"
	case errors.As(err, &framingErr):
		return "protocol violation: " + framingErr.Reason
	default:
		return "read failed: " + err.Error()
	}
}

// attach creates the session for a freshly accepted connection.
func (r *Router) attach(conn net.Conn) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSessionID++
	s := &session{
		id:           r.nextSessionID,
		remote:       remoteName(conn),
		conn:         conn,
		out:          make(chan []byte, r.config.WriteQueueDepth),
		state:        stateConnecting,
		lastActivity: r.clock.Now(),
		prefixes:     make(map[string]struct{}),
		topics:       make(map[string]struct{}),
	}
	r.sessions[s.id] = s
	r.logger.Debug("session attached", "session", s.id, "remote", s.remote)
	return s
}

func remoteName(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// writeLoop drains the session's frame queue to its socket. It exits
// when teardown closes the queue (after flushing what remains) or on
// the first write error, then closes the transport and marks the
// session closed.
func (r *Router) writeLoop(s *session) {
	for frame := range s.out {
		if _, err := s.conn.Write(frame); err != nil {
			r.logger.Debug("session write failed", "session", s.id, "error", err)
			break
		}
	}
	s.conn.Close()
	r.disconnect(s, "write path closed")
	r.markClosed(s)
}

func (r *Router) markClosed(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.state = stateClosed
}

// handleMessage dispatches one received frame. All routing state is
// read and mutated under the router mutex, so each message is applied
// atomically with respect to every other session.
func (r *Router) handleMessage(s *session, msg proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.state == stateDraining || s.state == stateClosed {
		// Frames racing with teardown are dropped; the session no
		// longer exists as far as the tables are concerned.
		return
	}
	s.lastActivity = r.clock.Now()
	if s.state == stateConnecting {
		s.state = stateActive
	}

	switch m := msg.(type) {
	case proto.RegisterRequest:
		r.handleRegister(s, m)
	case proto.UnregisterRequest:
		r.handleUnregister(s, m)
	case proto.ServiceCallRequest:
		r.handleServiceCall(s, m)
	case proto.CallReply:
		r.handleCallReply(s, m)
	case proto.SubscribeRequest:
		r.handleSubscribe(s, m)
	case proto.UnsubscribeRequest:
		r.handleUnsubscribe(s, m)
	case proto.BroadcastRequest:
		r.handleBroadcast(s, m)
	case proto.Ping:
		r.enqueueLocked(s, proto.Pong{})
	case proto.Pong:
		// Activity clock already refreshed; nothing else to do.
	default:
		// Reply messages and forwarded CallRequests originate from
		// the router, never from a peer. A peer sending one is
		// broken.
		r.logger.Warn("unexpected message from peer",
			"session", s.id, "type", msg.MessageType())
		r.teardownLocked(s, "protocol violation: unexpected "+msg.MessageType().String())
	}
}

func (r *Router) handleRegister(s *session, m proto.RegisterRequest) {
	if err := proto.ValidateServiceID(m.ServiceID); err != nil {
		r.enqueueLocked(s, proto.RegisterReply{
			Code:    proto.RegisterBadRequest,
			Message: err.Error(),
		})
		return
	}
	if err := r.table.register(s, m.ServiceID); err != nil {
		r.enqueueLocked(s, proto.RegisterReply{
			Code:    proto.RegisterConflict,
			Message: fmt.Sprintf("service id %q already registered", m.ServiceID),
		})
		return
	}
	s.prefixes[m.ServiceID] = struct{}{}
	r.logger.Debug("service registered", "session", s.id, "service", m.ServiceID)
	r.enqueueLocked(s, proto.RegisterReply{Code: proto.RegisteredOK})
}

func (r *Router) handleUnregister(s *session, m proto.UnregisterRequest) {
	if err := r.table.unregister(s, m.ServiceID); err != nil {
		r.enqueueLocked(s, proto.UnregisterReply{Code: proto.UnregisterNotFound})
		return
	}
	delete(s.prefixes, m.ServiceID)
	r.logger.Debug("service unregistered", "session", s.id, "service", m.ServiceID)
	r.enqueueLocked(s, proto.UnregisterReply{Code: proto.UnregisteredOK})
}

func (r *Router) handleServiceCall(s *session, m proto.ServiceCallRequest) {
	badRequest := func(reason string) {
		r.enqueueLocked(s, proto.CallReply{
			RequestID: m.RequestID,
			Code:      proto.CallBadRequest,
			ReplyType: proto.Full,
			Data:      []byte(reason),
		})
	}

	if m.RequestID == "" {
		badRequest("empty request id")
		return
	}
	if err := proto.ValidateServiceID(m.Address); err != nil {
		badRequest(err.Error())
		return
	}
	if r.calls.get(m.RequestID) != nil {
		badRequest(fmt.Sprintf("request id %q already pending", m.RequestID))
		return
	}

	target, err := r.table.resolve(m.Address)
	if err != nil {
		// No pending call is created: the failure is terminal and
		// immediate.
		r.enqueueLocked(s, proto.CallReply{
			RequestID: m.RequestID,
			Code:      proto.CallServiceFailure,
			ReplyType: proto.Full,
			Data:      []byte(fmt.Sprintf("no service registered under address %q", m.Address)),
		})
		return
	}

	r.calls.insert(&pendingCall{
		requestID: m.RequestID,
		caller:    s,
		target:    target,
		address:   m.Address,
		deadline:  r.clock.Now().Add(r.config.CallTimeout),
	})
	r.enqueueLocked(target, proto.CallRequest{
		Address:   m.Address,
		RequestID: m.RequestID,
		Data:      m.Data,
	})
}

func (r *Router) handleCallReply(s *session, m proto.CallReply) {
	call := r.calls.get(m.RequestID)
	if call == nil || call.target != s {
		// Stale, duplicate, or spoofed reply: silently discarded so a
		// resolved call is never delivered twice.
		r.logger.Debug("discarding reply for unknown request",
			"session", s.id, "request_id", m.RequestID)
		return
	}
	if m.ReplyType == proto.Full {
		r.calls.remove(call)
	}
	r.enqueueLocked(call.caller, m)
}

func (r *Router) handleSubscribe(s *session, m proto.SubscribeRequest) {
	if err := proto.ValidateTopic(m.Topic); err != nil {
		r.enqueueLocked(s, proto.SubscribeReply{
			Code:    proto.SubscribeBadRequest,
			Message: err.Error(),
		})
		return
	}
	if !r.topics.subscribe(s, m.Topic) {
		r.enqueueLocked(s, proto.SubscribeReply{
			Code:    proto.SubscribeBadRequest,
			Message: fmt.Sprintf("already subscribed to topic %q", m.Topic),
		})
		return
	}
	s.topics[m.Topic] = struct{}{}
	r.logger.Debug("subscribed", "session", s.id, "topic", m.Topic)
	r.enqueueLocked(s, proto.SubscribeReply{Code: proto.SubscribedOK})
}

func (r *Router) handleUnsubscribe(s *session, m proto.UnsubscribeRequest) {
	if !r.topics.unsubscribe(s, m.Topic) {
		r.enqueueLocked(s, proto.UnsubscribeReply{Code: proto.UnsubscribeNotFound})
		return
	}
	delete(s.topics, m.Topic)
	r.logger.Debug("unsubscribed", "session", s.id, "topic", m.Topic)
	r.enqueueLocked(s, proto.UnsubscribeReply{Code: proto.UnsubscribedOK})
}

func (r *Router) handleBroadcast(s *session, m proto.BroadcastRequest) {
	if err := proto.ValidateTopic(m.Topic); err != nil {
		r.enqueueLocked(s, proto.BroadcastReply{
			Code:    proto.BroadcastBadRequest,
			Message: err.Error(),
		})
		return
	}
	r.enqueueLocked(s, proto.BroadcastReply{Code: proto.BroadcastOK})

	// Fan-out happens while the mutex is held, so all subscribers
	// observe broadcasts on a topic in one serialization order.
	// Delivery itself is per-session best-effort: each enqueue is
	// independent and a full queue only hurts its own session.
	for subscriber := range r.topics.members(m.Topic) {
		r.enqueueLocked(subscriber, m)
	}
}

// enqueueLocked encodes msg and appends it to the session's write
// queue without blocking. Requires the router mutex. A session whose
// queue is full is torn down: it is not keeping up, and stalling the
// router on it would hold everyone else hostage.
func (r *Router) enqueueLocked(s *session, msg proto.Message) {
	if s.state == stateDraining || s.state == stateClosed {
		return
	}
	frame, err := proto.Encode(msg)
	if err != nil {
		r.logger.Error("encoding outbound frame",
			"session", s.id, "type", msg.MessageType(), "error", err)
		return
	}
	select {
	case s.out <- frame:
	default:
		r.logger.Warn("write queue overflow",
			"session", s.id, "remote", s.remote, "dropped", msg.MessageType())
		r.teardownLocked(s, "write queue overflow")
	}
}

// disconnect transitions a session to draining and cleans up all
// shared state it participates in. Safe to call multiple times; only
// the first call has any effect.
func (r *Router) disconnect(s *session, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked(s, reason)
}

// teardownLocked performs the active→draining transition: every
// prefix owned by the session is unregistered, every subscription
// removed, and every pending call involving the session resolved,
// exactly once and atomically with respect to all other sessions.
// Requires the router mutex.
func (r *Router) teardownLocked(s *session, reason string) {
	if s.state == stateDraining || s.state == stateClosed {
		return
	}
	s.state = stateDraining
	delete(r.sessions, s.id)

	for prefix := range s.prefixes {
		if err := r.table.unregister(s, prefix); err != nil {
			r.logger.Error("teardown: prefix missing from table",
				"session", s.id, "prefix", prefix)
		}
	}
	r.topics.removeSession(s, s.topics)

	// Calls this session was serving: the callers get a terminal
	// failure, since no reply can ever arrive now.
	for _, call := range r.calls.callsTo(s) {
		r.calls.remove(call)
		r.failCallLocked(call, fmt.Sprintf(
			"service %q call aborted: provider disconnected", call.address))
	}
	// Calls this session originated: nobody is left to reply to.
	for _, call := range r.calls.callsFrom(s) {
		r.calls.remove(call)
	}

	// Bound the drain: a peer that stopped reading must not pin the
	// write loop. Wall clock, not the injected one: socket deadlines
	// are real time.
	s.conn.SetWriteDeadline(time.Now().Add(drainTimeout))
	close(s.out)
	r.logger.Debug("session detached",
		"session", s.id, "remote", s.remote, "reason", reason)
}

// failCallLocked synthesizes the terminal SERVICE_FAILURE reply for a
// pending call already removed from the table. Requires the router
// mutex.
func (r *Router) failCallLocked(call *pendingCall, reason string) {
	r.enqueueLocked(call.caller, proto.CallReply{
		RequestID: call.requestID,
		Code:      proto.CallServiceFailure,
		ReplyType: proto.Full,
		Data:      []byte(reason),
	})
}
