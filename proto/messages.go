// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package proto

// MessageType is the i32 tag in the frame header identifying the body
// schema. The numeric values are a fixed wire contract.
type MessageType int32

const (
	TypeRegisterRequest    MessageType = 0
	TypeRegisterReply      MessageType = 1
	TypeUnregisterRequest  MessageType = 2
	TypeUnregisterReply    MessageType = 3
	TypeServiceCallRequest MessageType = 4
	TypeCallRequest        MessageType = 5
	TypeCallReply          MessageType = 6
	TypeSubscribeRequest   MessageType = 7
	TypeSubscribeReply     MessageType = 8
	TypeUnsubscribeRequest MessageType = 9
	TypeUnsubscribeReply   MessageType = 10
	TypeBroadcastRequest   MessageType = 11
	TypeBroadcastReply     MessageType = 12
	TypePing               MessageType = 13
	TypePong               MessageType = 14
)

func (t MessageType) String() string {
	switch t {
	case TypeRegisterRequest:
		return "RegisterRequest"
	case TypeRegisterReply:
		return "RegisterReply"
	case TypeUnregisterRequest:
		return "UnregisterRequest"
	case TypeUnregisterReply:
		return "UnregisterReply"
	case TypeServiceCallRequest:
		return "ServiceCallRequest"
	case TypeCallRequest:
		return "CallRequest"
	case TypeCallReply:
		return "CallReply"
	case TypeSubscribeRequest:
		return "SubscribeRequest"
	case TypeSubscribeReply:
		return "SubscribeReply"
	case TypeUnsubscribeRequest:
		return "UnsubscribeRequest"
	case TypeUnsubscribeReply:
		return "UnsubscribeReply"
	case TypeBroadcastRequest:
		return "BroadcastRequest"
	case TypeBroadcastReply:
		return "BroadcastReply"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	}
	return "Unknown"
}

// Message is implemented by every protocol message. The set is closed:
// only the types in this file appear on the wire.
type Message interface {
	// MessageType returns the frame header tag for this message.
	MessageType() MessageType
}

// Reply codes. The values are HTTP-flavored and part of the wire
// contract: 0 is success, 4xx a caller mistake, 5xx a service-side
// failure.
type (
	RegisterCode    int32
	UnregisterCode  int32
	CallCode        int32
	SubscribeCode   int32
	UnsubscribeCode int32
	BroadcastCode   int32
)

const (
	RegisteredOK       RegisterCode = 0
	RegisterBadRequest RegisterCode = 400
	RegisterConflict   RegisterCode = 409

	UnregisteredOK     UnregisterCode = 0
	UnregisterNotFound UnregisterCode = 404

	CallOK             CallCode = 0
	CallBadRequest     CallCode = 400
	CallServiceFailure CallCode = 500

	SubscribedOK        SubscribeCode = 0
	SubscribeBadRequest SubscribeCode = 400

	UnsubscribedOK      UnsubscribeCode = 0
	UnsubscribeNotFound UnsubscribeCode = 404

	BroadcastOK         BroadcastCode = 0
	BroadcastBadRequest BroadcastCode = 400
)

// ReplyType distinguishes streamed reply chunks from the terminal
// reply that resolves a call.
type ReplyType int32

const (
	// Full is the terminal reply: the call is complete and its
	// pending-call record is dropped.
	Full ReplyType = 0

	// Partial is a streamed chunk; more replies for the same request
	// id follow.
	Partial ReplyType = 1
)

func (t ReplyType) String() string {
	switch t {
	case Full:
		return "FULL"
	case Partial:
		return "PARTIAL"
	}
	return "Unknown"
}

// RegisterRequest asks the router to register the sending session as
// the exclusive owner of a service id.
type RegisterRequest struct {
	ServiceID string `cbor:"service_id"`
}

// RegisterReply reports the outcome of a RegisterRequest.
type RegisterReply struct {
	Code    RegisterCode `cbor:"code"`
	Message string       `cbor:"message,omitempty"`
}

// UnregisterRequest releases a service id currently owned by the
// sending session.
type UnregisterRequest struct {
	ServiceID string `cbor:"service_id"`
}

// UnregisterReply reports the outcome of an UnregisterRequest.
type UnregisterReply struct {
	Code UnregisterCode `cbor:"code"`
}

// ServiceCallRequest is sent by a caller to invoke the service that
// owns the longest registered prefix of Address. Data is opaque to the
// router.
type ServiceCallRequest struct {
	Address   string `cbor:"address"`
	RequestID string `cbor:"request_id"`
	Data      []byte `cbor:"data"`
}

// CallRequest is the router-forwarded form of a ServiceCallRequest,
// delivered to the owning session. The full address is preserved so a
// service registered for a prefix can dispatch on the sub-path.
type CallRequest struct {
	Address   string `cbor:"address"`
	RequestID string `cbor:"request_id"`
	Data      []byte `cbor:"data"`
}

// CallReply carries a reply chunk for an outstanding request id. A
// target sends zero or more Partial replies followed by exactly one
// Full reply; the router also synthesizes Full replies with
// CallServiceFailure when the target is unreachable.
type CallReply struct {
	RequestID string    `cbor:"request_id"`
	Code      CallCode  `cbor:"code"`
	ReplyType ReplyType `cbor:"reply_type"`
	Data      []byte    `cbor:"data"`
}

// SubscribeRequest adds the sending session to a broadcast topic.
type SubscribeRequest struct {
	Topic string `cbor:"topic"`
}

// SubscribeReply reports the outcome of a SubscribeRequest.
type SubscribeReply struct {
	Code    SubscribeCode `cbor:"code"`
	Message string        `cbor:"message,omitempty"`
}

// UnsubscribeRequest removes the sending session from a topic.
type UnsubscribeRequest struct {
	Topic string `cbor:"topic"`
}

// UnsubscribeReply reports the outcome of an UnsubscribeRequest.
type UnsubscribeReply struct {
	Code UnsubscribeCode `cbor:"code"`
}

// BroadcastRequest publishes Data to every subscriber of Topic. The
// publisher receives a BroadcastReply; fan-out itself is best-effort
// and unacknowledged.
type BroadcastRequest struct {
	Topic string `cbor:"topic"`
	Data  []byte `cbor:"data"`
}

// BroadcastReply acknowledges a BroadcastRequest to the publisher
// before any fan-out happens.
type BroadcastReply struct {
	Code    BroadcastCode `cbor:"code"`
	Message string        `cbor:"message,omitempty"`
}

// Ping is sent by the liveness supervisor to an idle session. It
// carries no body.
type Ping struct{}

// Pong answers a Ping. Receipt of any frame, Pong included, refreshes
// the peer's last-activity clock. It carries no body.
type Pong struct{}

func (RegisterRequest) MessageType() MessageType    { return TypeRegisterRequest }
func (RegisterReply) MessageType() MessageType      { return TypeRegisterReply }
func (UnregisterRequest) MessageType() MessageType  { return TypeUnregisterRequest }
func (UnregisterReply) MessageType() MessageType    { return TypeUnregisterReply }
func (ServiceCallRequest) MessageType() MessageType { return TypeServiceCallRequest }
func (CallRequest) MessageType() MessageType        { return TypeCallRequest }
func (CallReply) MessageType() MessageType          { return TypeCallReply }
func (SubscribeRequest) MessageType() MessageType   { return TypeSubscribeRequest }
func (SubscribeReply) MessageType() MessageType     { return TypeSubscribeReply }
func (UnsubscribeRequest) MessageType() MessageType { return TypeUnsubscribeRequest }
func (UnsubscribeReply) MessageType() MessageType   { return TypeUnsubscribeReply }
func (BroadcastRequest) MessageType() MessageType   { return TypeBroadcastRequest }
func (BroadcastReply) MessageType() MessageType     { return TypeBroadcastReply }
func (Ping) MessageType() MessageType               { return TypePing }
func (Pong) MessageType() MessageType               { return TypePong }
