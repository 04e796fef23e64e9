// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/hivemesh/hivemesh/proto"
)

// Broadcast is one message received on a subscribed topic.
type Broadcast struct {
	Topic string
	Data  []byte
}

// Subscribe joins topic and returns the channel its broadcasts arrive
// on. The channel closes on Unsubscribe or when the connection dies.
// Delivery is best-effort end to end: broadcasts that arrive while the
// channel's buffer is full are dropped.
func (c *Conn) Subscribe(ctx context.Context, topic string) (<-chan Broadcast, error) {
	ch := make(chan Broadcast, c.broadcastBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr()
	}
	if _, exists := c.topics[topic]; exists {
		c.mu.Unlock()
		return nil, &ReplyError{Op: "subscribe " + topic, Code: int32(proto.SubscribeBadRequest), Message: "already subscribed"}
	}
	c.topics[topic] = ch
	c.mu.Unlock()

	msg, err := c.roundTrip(ctx, proto.SubscribeRequest{Topic: topic}, proto.TypeSubscribeReply)
	if err == nil {
		reply := msg.(proto.SubscribeReply)
		if reply.Code != proto.SubscribedOK {
			err = &ReplyError{Op: "subscribe " + topic, Code: int32(reply.Code), Message: reply.Message}
		}
	}
	if err != nil {
		c.mu.Lock()
		if !c.closed {
			delete(c.topics, topic)
		}
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Unsubscribe leaves topic and closes its delivery channel.
func (c *Conn) Unsubscribe(ctx context.Context, topic string) error {
	msg, err := c.roundTrip(ctx, proto.UnsubscribeRequest{Topic: topic}, proto.TypeUnsubscribeReply)
	if err != nil {
		return err
	}
	reply := msg.(proto.UnsubscribeReply)
	if reply.Code != proto.UnsubscribedOK {
		return &ReplyError{Op: "unsubscribe " + topic, Code: int32(reply.Code)}
	}

	// Closing under the mutex excludes the read loop's delivery send;
	// once the connection is dead, cleanup owns the close instead.
	c.mu.Lock()
	if ch := c.topics[topic]; ch != nil && !c.closed {
		delete(c.topics, topic)
		close(ch)
	}
	c.mu.Unlock()
	return nil
}

// Publish sends data to every subscriber of topic. The returned error
// covers only the router's acknowledgement; fan-out to subscribers is
// unacknowledged.
func (c *Conn) Publish(ctx context.Context, topic string, data []byte) error {
	msg, err := c.roundTrip(ctx, proto.BroadcastRequest{Topic: topic, Data: data}, proto.TypeBroadcastReply)
	if err != nil {
		return err
	}
	reply := msg.(proto.BroadcastReply)
	if reply.Code != proto.BroadcastOK {
		return &ReplyError{Op: "publish " + topic, Code: int32(reply.Code), Message: reply.Message}
	}
	return nil
}

// deliverBroadcast hands an inbound broadcast to its topic channel.
// Runs on the read loop; a full buffer drops the message rather than
// stalling every other consumer on the connection.
func (c *Conn) deliverBroadcast(request proto.BroadcastRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.topics[request.Topic]
	if ch == nil {
		c.logger.Debug("broadcast for unknown topic", "topic", request.Topic)
		return
	}
	// Non-blocking send under the mutex, so an Unsubscribe cannot
	// close the channel mid-send.
	select {
	case ch <- Broadcast{Topic: request.Topic, Data: request.Data}:
	default:
		c.logger.Warn("dropping broadcast, subscriber buffer full", "topic", request.Topic)
	}
}
