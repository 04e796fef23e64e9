// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"

	"github.com/hivemesh/hivemesh/proto"
)

// ErrClosed reports an operation on a connection that has been closed,
// locally or by the router.
var ErrClosed = errors.New("client: connection closed")

// ErrStreamDone reports a Next call on a stream whose terminal reply
// has already been returned.
var ErrStreamDone = errors.New("client: reply stream already finished")

// ReplyError is a non-success code in a control reply (register,
// unregister, subscribe, unsubscribe, or broadcast acknowledgement).
type ReplyError struct {
	Op      string
	Code    int32
	Message string
}

func (e *ReplyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: %s: code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("client: %s: code %d: %s", e.Op, e.Code, e.Message)
}

// CallError is a failure reply to a call, sent by the service itself
// or synthesized by the router when the target is unreachable, has
// disconnected, or missed the call deadline.
type CallError struct {
	Code    proto.CallCode
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("client: call failed with code %d: %s", e.Code, e.Message)
}
