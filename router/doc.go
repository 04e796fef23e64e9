// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package router implements the service bus router: the broker that
// lets connected peers register named services, issue request/reply
// calls with streamed partial replies, and publish/subscribe to
// broadcast topics, all multiplexed over long-lived framed
// connections.
//
// A Router instance owns all shared state (the prefix routing table,
// the broadcast topic registry, the pending-call table, and the
// session set) behind one mutex. Every state transition (register,
// unregister, subscribe, call insert/resolve, session teardown) is
// atomic under it, which is what preserves the two core invariants:
// at most one live owner per exact prefix, and exactly-once resolution
// of every pending call. Socket writes never happen under the lock;
// handlers only enqueue frames onto per-session write queues, and a
// dedicated goroutine per session drains its queue. A session that
// overflows its queue is disconnected rather than allowed to stall
// delivery to anyone else.
//
// The liveness supervisor (Run) pings idle sessions and reclaims
// silently dead ones, and fails pending calls whose targets never
// produce a terminal reply.
package router
