// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package proto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hivemesh/hivemesh/lib/codec"
)

// HeaderLength is the fixed size of the frame header: an int32
// message-type tag followed by a uint32 body length, both big-endian.
const HeaderLength = 8

// DefaultMaxBody is the body-size limit used when a caller passes 0 to
// ReadFrame. 16 MiB is far beyond any legitimate bus payload.
const DefaultMaxBody = 16 << 20

// FramingError reports a malformed frame: unknown type tag, body
// length mismatch, oversized body, or an undecodable body. A peer that
// produces one cannot be trusted to be resynchronized; the connection
// it arrived on must be closed.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return "framing: " + e.Reason }

func framingErrorf(format string, args ...any) *FramingError {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// Encode serializes msg into a complete frame: header plus CBOR body.
// Ping and Pong encode with an empty body.
func Encode(msg Message) ([]byte, error) {
	var body []byte
	switch msg.(type) {
	case Ping, Pong:
		// No body.
	default:
		var err error
		body, err = codec.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", msg.MessageType(), err)
		}
	}

	frame := make([]byte, HeaderLength+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(msg.MessageType()))
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[HeaderLength:], body)
	return frame, nil
}

// Decode parses one complete frame. The slice must contain exactly the
// header and the declared body: a declared length that does not match
// the available bytes is a FramingError.
func Decode(frame []byte) (Message, error) {
	if len(frame) < HeaderLength {
		return nil, framingErrorf("frame is %d bytes, shorter than the %d-byte header", len(frame), HeaderLength)
	}
	messageType := MessageType(int32(binary.BigEndian.Uint32(frame[0:4])))
	bodyLength := binary.BigEndian.Uint32(frame[4:8])
	if uint64(bodyLength) != uint64(len(frame)-HeaderLength) {
		return nil, framingErrorf("declared body length %d does not match %d available bytes",
			bodyLength, len(frame)-HeaderLength)
	}
	return decodeBody(messageType, frame[HeaderLength:])
}

// WriteFrame encodes msg and writes the complete frame to w.
func WriteFrame(w io.Writer, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", msg.MessageType(), err)
	}
	return nil
}

// ReadFrame reads one frame from r. maxBody bounds the declared body
// length (0 means DefaultMaxBody); a larger declaration is a
// FramingError, detected before any allocation. I/O errors (including
// io.EOF on a clean close before a header) are returned as-is, so
// callers can distinguish a dead peer from a hostile one.
func ReadFrame(r io.Reader, maxBody uint32) (Message, error) {
	if maxBody == 0 {
		maxBody = DefaultMaxBody
	}

	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	messageType := MessageType(int32(binary.BigEndian.Uint32(header[0:4])))
	bodyLength := binary.BigEndian.Uint32(header[4:8])
	if bodyLength > maxBody {
		return nil, framingErrorf("%s declares %d-byte body, limit is %d", messageType, bodyLength, maxBody)
	}

	body := make([]byte, bodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, framingErrorf("%s body truncated: declared %d bytes, connection closed early",
				messageType, bodyLength)
		}
		return nil, err
	}
	return decodeBody(messageType, body)
}

// decodeBody deserializes a frame body according to its type tag.
func decodeBody(messageType MessageType, body []byte) (Message, error) {
	switch messageType {
	case TypeRegisterRequest:
		return decodeAs[RegisterRequest](messageType, body)
	case TypeRegisterReply:
		return decodeAs[RegisterReply](messageType, body)
	case TypeUnregisterRequest:
		return decodeAs[UnregisterRequest](messageType, body)
	case TypeUnregisterReply:
		return decodeAs[UnregisterReply](messageType, body)
	case TypeServiceCallRequest:
		return decodeAs[ServiceCallRequest](messageType, body)
	case TypeCallRequest:
		return decodeAs[CallRequest](messageType, body)
	case TypeCallReply:
		return decodeAs[CallReply](messageType, body)
	case TypeSubscribeRequest:
		return decodeAs[SubscribeRequest](messageType, body)
	case TypeSubscribeReply:
		return decodeAs[SubscribeReply](messageType, body)
	case TypeUnsubscribeRequest:
		return decodeAs[UnsubscribeRequest](messageType, body)
	case TypeUnsubscribeReply:
		return decodeAs[UnsubscribeReply](messageType, body)
	case TypeBroadcastRequest:
		return decodeAs[BroadcastRequest](messageType, body)
	case TypeBroadcastReply:
		return decodeAs[BroadcastReply](messageType, body)
	case TypePing, TypePong:
		if len(body) != 0 {
			return nil, framingErrorf("%s carries %d-byte body, must be empty", messageType, len(body))
		}
		if messageType == TypePing {
			return Ping{}, nil
		}
		return Pong{}, nil
	}
	return nil, framingErrorf("unknown message type tag %d", int32(messageType))
}

// decodeAs decodes body into a value of the concrete message type T.
// A body that does not decode is a framing violation like any other
// malformed frame.
func decodeAs[T Message](messageType MessageType, body []byte) (Message, error) {
	var msg T
	if err := codec.Unmarshal(body, &msg); err != nil {
		return nil, framingErrorf("undecodable %s body: %v", messageType, err)
	}
	return msg, nil
}
