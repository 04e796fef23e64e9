// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"net"
	"time"
)

// sessionState is the lifecycle of one connected peer.
//
//	connecting → active → draining → closed
//
// Connecting becomes active on the first frame received. Draining is
// entered exactly once (on a voluntary close, a framing violation, a
// write-queue overflow, or a liveness timeout) and atomically removes
// the session from every shared table. Closed means the write queue
// has been flushed (or abandoned on write error) and the transport is
// shut.
type sessionState int

const (
	stateConnecting sessionState = iota
	stateActive
	stateDraining
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// session is the router-side state of one connected peer. Created on
// connection accept, destroyed on disconnect. The conn and out fields
// are set once; everything else is guarded by the router mutex.
type session struct {
	id     uint64
	remote string
	conn   net.Conn

	// out carries encoded frames to the write loop. Buffered: the
	// queue is the unit of backpressure, so a slow peer never blocks
	// the handler enqueueing to it. Closed by teardown, which is the
	// only close site and happens exactly once.
	out chan []byte

	state sessionState

	// lastActivity is the receive time of the most recent frame.
	// Sending (pings included) does not refresh it.
	lastActivity time.Time

	// prefixes is the set of service ids this session owns in the
	// routing table.
	prefixes map[string]struct{}

	// topics is the set of broadcast topics this session subscribes
	// to.
	topics map[string]struct{}
}
