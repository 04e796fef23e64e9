// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hivemesh/hivemesh/lib/clock"
	"github.com/hivemesh/hivemesh/proto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, config Config, clk clock.Clock) *Router {
	t.Helper()
	if clk == nil {
		clk = clock.Real()
	}
	return New(config, testLogger(), clk)
}

// peer is one end of an in-memory connection to the router, speaking
// the framed protocol directly.
type peer struct {
	t    *testing.T
	conn net.Conn
}

// connect attaches a new in-memory session to the router.
func connect(t *testing.T, r *Router) *peer {
	t.Helper()
	client, server := net.Pipe()
	go r.HandleConn(server)
	t.Cleanup(func() { client.Close() })
	return &peer{t: t, conn: client}
}

func (p *peer) send(msg proto.Message) {
	p.t.Helper()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := proto.WriteFrame(p.conn, msg); err != nil {
		p.t.Fatalf("send %s: %v", msg.MessageType(), err)
	}
}

func (p *peer) recv() proto.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg, err := proto.ReadFrame(p.conn, 0)
	if err != nil {
		p.t.Fatalf("recv: %v", err)
	}
	return msg
}

// recvNothing asserts no frame arrives within the wait window.
func (p *peer) recvNothing(wait time.Duration) {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(wait))
	msg, err := proto.ReadFrame(p.conn, 0)
	if err == nil {
		p.t.Fatalf("unexpected frame %s", msg.MessageType())
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		p.t.Fatalf("recvNothing: got %v, want deadline exceeded", err)
	}
}

// recvEOF asserts the router closes the connection.
func (p *peer) recvEOF() {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, err := proto.ReadFrame(p.conn, 0); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			p.t.Fatalf("recvEOF: got %v, want EOF", err)
		}
	}
}

// expect receives one frame and asserts its concrete type.
func expect[T proto.Message](p *peer) T {
	p.t.Helper()
	msg := p.recv()
	typed, ok := msg.(T)
	if !ok {
		var want T
		p.t.Fatalf("received %s, want %s", msg.MessageType(), want.MessageType())
	}
	return typed
}

// register registers a service id and asserts success.
func (p *peer) register(serviceID string) {
	p.t.Helper()
	p.send(proto.RegisterRequest{ServiceID: serviceID})
	reply := expect[proto.RegisterReply](p)
	if reply.Code != proto.RegisteredOK {
		p.t.Fatalf("register %q: code %d (%s)", serviceID, reply.Code, reply.Message)
	}
}

// subscribe subscribes to a topic and asserts success.
func (p *peer) subscribe(topic string) {
	p.t.Helper()
	p.send(proto.SubscribeRequest{Topic: topic})
	reply := expect[proto.SubscribeReply](p)
	if reply.Code != proto.SubscribedOK {
		p.t.Fatalf("subscribe %q: code %d (%s)", topic, reply.Code, reply.Message)
	}
}

func TestRegisterCallStreamedReply(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	provider := connect(t, r)
	provider.register("market")

	caller := connect(t, r)
	caller.send(proto.ServiceCallRequest{
		Address:   "market/offers",
		RequestID: "req-1",
		Data:      []byte("query"),
	})

	// The provider sees the forwarded call with the full address.
	call := expect[proto.CallRequest](provider)
	if call.Address != "market/offers" {
		t.Errorf("forwarded address: got %q, want %q", call.Address, "market/offers")
	}
	if call.RequestID != "req-1" || string(call.Data) != "query" {
		t.Errorf("forwarded call: got %+v", call)
	}

	// Stream two partial chunks, then the terminal reply.
	provider.send(proto.CallReply{RequestID: "req-1", Code: proto.CallOK, ReplyType: proto.Partial, Data: []byte("chunk-1")})
	provider.send(proto.CallReply{RequestID: "req-1", Code: proto.CallOK, ReplyType: proto.Partial, Data: []byte("chunk-2")})
	provider.send(proto.CallReply{RequestID: "req-1", Code: proto.CallOK, ReplyType: proto.Full, Data: []byte("done")})

	for i, want := range []struct {
		replyType proto.ReplyType
		data      string
	}{
		{proto.Partial, "chunk-1"},
		{proto.Partial, "chunk-2"},
		{proto.Full, "done"},
	} {
		reply := expect[proto.CallReply](caller)
		if reply.RequestID != "req-1" || reply.ReplyType != want.replyType || string(reply.Data) != want.data {
			t.Errorf("reply %d: got %+v, want type %s data %q", i, reply, want.replyType, want.data)
		}
	}

	// A duplicate terminal reply for a resolved call is silently
	// discarded, never double-delivered.
	provider.send(proto.CallReply{RequestID: "req-1", Code: proto.CallOK, ReplyType: proto.Full, Data: []byte("again")})
	caller.recvNothing(100 * time.Millisecond)
}

func TestRegisterConflictKeepsFirstOwner(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	first := connect(t, r)
	first.register("exclusive")

	second := connect(t, r)
	second.send(proto.RegisterRequest{ServiceID: "exclusive"})
	reply := expect[proto.RegisterReply](second)
	if reply.Code != proto.RegisterConflict {
		t.Fatalf("second register: code %d, want %d", reply.Code, proto.RegisterConflict)
	}

	// Calls still route to the first owner.
	second.send(proto.ServiceCallRequest{Address: "exclusive", RequestID: "r1", Data: nil})
	expect[proto.CallRequest](first)
}

func TestRegisterBadServiceID(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)
	p := connect(t, r)

	for _, id := range []string{"", "a//b", "bad id", "trailing/"} {
		p.send(proto.RegisterRequest{ServiceID: id})
		reply := expect[proto.RegisterReply](p)
		if reply.Code != proto.RegisterBadRequest {
			t.Errorf("register %q: code %d, want %d", id, reply.Code, proto.RegisterBadRequest)
		}
	}

	// The connection stays open and usable.
	p.register("still/alive")
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	owner := connect(t, r)
	owner.register("svc")

	// Another session cannot release someone else's registration.
	other := connect(t, r)
	other.send(proto.UnregisterRequest{ServiceID: "svc"})
	if reply := expect[proto.UnregisterReply](other); reply.Code != proto.UnregisterNotFound {
		t.Fatalf("unregister by non-owner: code %d, want %d", reply.Code, proto.UnregisterNotFound)
	}

	owner.send(proto.UnregisterRequest{ServiceID: "svc"})
	if reply := expect[proto.UnregisterReply](owner); reply.Code != proto.UnregisteredOK {
		t.Fatalf("unregister: code %d, want %d", reply.Code, proto.UnregisteredOK)
	}

	owner.send(proto.UnregisterRequest{ServiceID: "svc"})
	if reply := expect[proto.UnregisterReply](owner); reply.Code != proto.UnregisterNotFound {
		t.Fatalf("double unregister: code %d, want %d", reply.Code, proto.UnregisterNotFound)
	}

	// Calls to the released address now fail.
	other.send(proto.ServiceCallRequest{Address: "svc", RequestID: "r1"})
	if reply := expect[proto.CallReply](other); reply.Code != proto.CallServiceFailure {
		t.Fatalf("call after unregister: code %d, want %d", reply.Code, proto.CallServiceFailure)
	}
}

func TestCallUnknownServiceFailsImmediately(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)
	p := connect(t, r)

	p.send(proto.ServiceCallRequest{Address: "ghost/svc", RequestID: "r1"})
	reply := expect[proto.CallReply](p)
	if reply.Code != proto.CallServiceFailure || reply.ReplyType != proto.Full {
		t.Fatalf("got code %d type %s, want SERVICE_FAILURE FULL", reply.Code, reply.ReplyType)
	}
	if reply.RequestID != "r1" {
		t.Errorf("request id: got %q, want %q", reply.RequestID, "r1")
	}
}

func TestCallDuplicateRequestID(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	provider := connect(t, r)
	provider.register("svc")

	caller := connect(t, r)
	caller.send(proto.ServiceCallRequest{Address: "svc", RequestID: "dup"})
	expect[proto.CallRequest](provider)

	// Reusing a live request id is rejected without disturbing the
	// original call.
	caller.send(proto.ServiceCallRequest{Address: "svc", RequestID: "dup"})
	reply := expect[proto.CallReply](caller)
	if reply.Code != proto.CallBadRequest {
		t.Fatalf("duplicate id: code %d, want %d", reply.Code, proto.CallBadRequest)
	}

	provider.send(proto.CallReply{RequestID: "dup", ReplyType: proto.Full, Data: []byte("ok")})
	final := expect[proto.CallReply](caller)
	if final.Code != proto.CallOK || string(final.Data) != "ok" {
		t.Errorf("original call corrupted by duplicate: %+v", final)
	}
}

func TestLongestPrefixRouting(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	shallow := connect(t, r)
	shallow.register("foo")
	deep := connect(t, r)
	deep.register("foo/bar")

	caller := connect(t, r)

	caller.send(proto.ServiceCallRequest{Address: "foo/bar", RequestID: "r1"})
	expect[proto.CallRequest](deep)

	caller.send(proto.ServiceCallRequest{Address: "foo/bar/baz", RequestID: "r2"})
	expect[proto.CallRequest](deep)

	caller.send(proto.ServiceCallRequest{Address: "foo/qux", RequestID: "r3"})
	expect[proto.CallRequest](shallow)
}

func TestTargetDisconnectFailsPendingCalls(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	provider := connect(t, r)
	provider.register("flaky")

	caller := connect(t, r)
	caller.send(proto.ServiceCallRequest{Address: "flaky/run", RequestID: "r1"})
	expect[proto.CallRequest](provider)

	// The provider vanishes with the call outstanding.
	provider.conn.Close()

	reply := expect[proto.CallReply](caller)
	if reply.Code != proto.CallServiceFailure || reply.ReplyType != proto.Full {
		t.Fatalf("got code %d type %s, want SERVICE_FAILURE FULL", reply.Code, reply.ReplyType)
	}
	if reply.RequestID != "r1" {
		t.Errorf("request id: got %q, want %q", reply.RequestID, "r1")
	}

	// Exactly once: nothing further arrives.
	caller.recvNothing(100 * time.Millisecond)
}

func TestBroadcastFanOut(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	subscribers := []*peer{connect(t, r), connect(t, r), connect(t, r)}
	for _, s := range subscribers {
		s.subscribe("news")
	}

	publisher := connect(t, r)
	publisher.send(proto.BroadcastRequest{Topic: "news", Data: []byte("payload")})

	if reply := expect[proto.BroadcastReply](publisher); reply.Code != proto.BroadcastOK {
		t.Fatalf("broadcast reply: code %d, want OK", reply.Code)
	}

	for i, s := range subscribers {
		msg := expect[proto.BroadcastRequest](s)
		if msg.Topic != "news" || string(msg.Data) != "payload" {
			t.Errorf("subscriber %d: got %+v", i, msg)
		}
	}

	// The publisher is not subscribed and receives nothing.
	publisher.recvNothing(100 * time.Millisecond)
}

func TestBroadcastReachesSubscribedPublisher(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	p := connect(t, r)
	p.subscribe("loop")
	p.send(proto.BroadcastRequest{Topic: "loop", Data: []byte("echo")})

	expect[proto.BroadcastReply](p)
	msg := expect[proto.BroadcastRequest](p)
	if string(msg.Data) != "echo" {
		t.Errorf("self-delivery: got %q, want %q", msg.Data, "echo")
	}
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{WriteQueueDepth: 4}, nil)

	// The stalled subscriber never reads; its pipe blocks the write
	// loop on the first frame and its queue fills after depth more.
	stalled := connect(t, r)
	stalled.subscribe("firehose")

	healthy := connect(t, r)
	healthy.subscribe("firehose")

	publisher := connect(t, r)
	const messages = 20
	for i := 0; i < messages; i++ {
		publisher.send(proto.BroadcastRequest{Topic: "firehose", Data: []byte(fmt.Sprintf("m%d", i))})
		expect[proto.BroadcastReply](publisher)
	}

	// Every message reaches the healthy subscriber, in publish
	// order.
	for i := 0; i < messages; i++ {
		msg := expect[proto.BroadcastRequest](healthy)
		if want := fmt.Sprintf("m%d", i); string(msg.Data) != want {
			t.Fatalf("healthy subscriber message %d: got %q, want %q", i, msg.Data, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	p := connect(t, r)
	p.subscribe("events")

	p.send(proto.UnsubscribeRequest{Topic: "events"})
	if reply := expect[proto.UnsubscribeReply](p); reply.Code != proto.UnsubscribedOK {
		t.Fatalf("unsubscribe: code %d, want OK", reply.Code)
	}

	p.send(proto.UnsubscribeRequest{Topic: "events"})
	if reply := expect[proto.UnsubscribeReply](p); reply.Code != proto.UnsubscribeNotFound {
		t.Fatalf("double unsubscribe: code %d, want NOT_FOUND", reply.Code)
	}

	// No more deliveries after unsubscribing.
	publisher := connect(t, r)
	publisher.send(proto.BroadcastRequest{Topic: "events", Data: []byte("missed")})
	expect[proto.BroadcastReply](publisher)
	p.recvNothing(100 * time.Millisecond)
}

func TestSubscribeDuplicateRejected(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	p := connect(t, r)
	p.subscribe("once")
	p.send(proto.SubscribeRequest{Topic: "once"})
	reply := expect[proto.SubscribeReply](p)
	if reply.Code != proto.SubscribeBadRequest {
		t.Fatalf("duplicate subscribe: code %d, want BAD_REQUEST", reply.Code)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	p := connect(t, r)
	p.send(proto.Ping{})
	expect[proto.Pong](p)
}

func TestUnexpectedMessageDisconnects(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	p := connect(t, r)
	p.send(proto.RegisterReply{Code: proto.RegisteredOK})
	p.recvEOF()
}

func TestMalformedFrameDisconnects(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	p := connect(t, r)
	// Unknown type tag 99 with an empty body.
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := p.conn.Write([]byte{0, 0, 0, 99, 0, 0, 0, 0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.recvEOF()
}

func TestDisconnectRemovesRegistrationsAndSubscriptions(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	ephemeral := connect(t, r)
	ephemeral.register("gone/soon")
	ephemeral.subscribe("events")
	ephemeral.conn.Close()

	// The prefix is free again once teardown completes.
	replacement := connect(t, r)
	deadline := time.Now().Add(5 * time.Second)
	for {
		replacement.send(proto.RegisterRequest{ServiceID: "gone/soon"})
		reply := expect[proto.RegisterReply](replacement)
		if reply.Code == proto.RegisteredOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prefix never freed: last code %d", reply.Code)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConcurrentRegisterStorm(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{}, nil)

	const contenders = 8
	codes := make([]proto.RegisterCode, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		p := connect(t, r)
		wg.Add(1)
		go func(i int, p *peer) {
			defer wg.Done()
			p.send(proto.RegisterRequest{ServiceID: "contested"})
			codes[i] = expect[proto.RegisterReply](p).Code
		}(i, p)
	}
	wg.Wait()

	var winners, conflicts int
	for _, code := range codes {
		switch code {
		case proto.RegisteredOK:
			winners++
		case proto.RegisterConflict:
			conflicts++
		default:
			t.Errorf("unexpected code %d", code)
		}
	}
	if winners != 1 || conflicts != contenders-1 {
		t.Errorf("got %d winners and %d conflicts, want exactly 1 and %d", winners, conflicts, contenders-1)
	}
}
