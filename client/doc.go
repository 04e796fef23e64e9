// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the Go client library for the hivemesh service
// bus. A Conn multiplexes everything a process does with the bus over
// one framed connection: registering services and handling the calls
// routed to them, calling other services with streamed replies, and
// publishing or subscribing to broadcast topics.
//
// Control replies (register, unregister, subscribe, unsubscribe,
// broadcast acknowledgements) carry no correlation id on the wire; the
// router answers them in the order the requests were sent, so the Conn
// matches them to callers first-in first-out. Call replies carry the
// request id and are demultiplexed by it.
package client
