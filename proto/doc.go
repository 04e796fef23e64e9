// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package proto defines the service bus wire protocol: the message
// model, the reply codes, and the binary framing codec.
//
// Every frame is an 8-byte header followed by a body:
//
//	[int32 big-endian message type][uint32 big-endian body length][body]
//
// The body is the message encoded as deterministic CBOR (see
// lib/codec). Ping and Pong carry no body. The type tags and body
// schemas are a fixed contract shared by all peers; unknown tags and
// length mismatches are framing errors, which are fatal to the
// connection that produced them.
package proto
