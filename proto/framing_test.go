// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"
)

// allMessages is one instance of every wire message variant.
var allMessages = []Message{
	RegisterRequest{ServiceID: "market/offers"},
	RegisterReply{Code: RegisterConflict, Message: "already registered"},
	UnregisterRequest{ServiceID: "market/offers"},
	UnregisterReply{Code: UnregisteredOK},
	ServiceCallRequest{Address: "market/offers/list", RequestID: "r-1", Data: []byte("payload")},
	CallRequest{Address: "market/offers/list", RequestID: "r-1", Data: []byte("payload")},
	CallReply{RequestID: "r-1", Code: CallOK, ReplyType: Partial, Data: []byte("chunk")},
	SubscribeRequest{Topic: "offers"},
	SubscribeReply{Code: SubscribedOK, Message: "subscribed"},
	UnsubscribeRequest{Topic: "offers"},
	UnsubscribeReply{Code: UnsubscribeNotFound},
	BroadcastRequest{Topic: "offers", Data: []byte("news")},
	BroadcastReply{Code: BroadcastOK},
	Ping{},
	Pong{},
}

func TestRoundTripAllVariants(t *testing.T) {
	t.Parallel()

	for _, msg := range allMessages {
		frame, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%s): %v", msg.MessageType(), err)
		}

		decoded, err := Decode(frame)
		if err != nil {
			t.Fatalf("Decode(%s): %v", msg.MessageType(), err)
		}
		if !reflect.DeepEqual(decoded, msg) {
			t.Errorf("%s: decoded %#v, want %#v", msg.MessageType(), decoded, msg)
		}

		// Deterministic encoding: re-encoding the decoded message
		// reproduces the original frame byte for byte.
		reencoded, err := Encode(decoded)
		if err != nil {
			t.Fatalf("re-Encode(%s): %v", msg.MessageType(), err)
		}
		if !bytes.Equal(reencoded, frame) {
			t.Errorf("%s: re-encoded frame differs:\n got %x\nwant %x", msg.MessageType(), reencoded, frame)
		}
	}
}

func TestRoundTripStream(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	for _, msg := range allMessages {
		if err := WriteFrame(&buf, msg); err != nil {
			t.Fatalf("WriteFrame(%s): %v", msg.MessageType(), err)
		}
	}

	for _, want := range allMessages {
		got, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("ReadFrame(%s): %v", want.MessageType(), err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ReadFrame: got %#v, want %#v", got, want)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("stream has %d leftover bytes", buf.Len())
	}
}

func TestEncodeEmptyBody(t *testing.T) {
	t.Parallel()

	frame, err := Encode(Ping{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(frame) != HeaderLength {
		t.Errorf("Ping frame is %d bytes, want header only (%d)", len(frame), HeaderLength)
	}
	if got := binary.BigEndian.Uint32(frame[4:8]); got != 0 {
		t.Errorf("Ping declared body length %d, want 0", got)
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	t.Parallel()

	frame := make([]byte, HeaderLength)
	binary.BigEndian.PutUint32(frame[0:4], 999)

	_, err := Decode(frame)
	var framingErr *FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("Decode: got %v, want FramingError", err)
	}
}

func TestDecodeRejectsNegativeTag(t *testing.T) {
	t.Parallel()

	frame := make([]byte, HeaderLength)
	binary.BigEndian.PutUint32(frame[0:4], uint32(0xFFFFFFFF)) // -1 as i32

	_, err := Decode(frame)
	var framingErr *FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("Decode: got %v, want FramingError", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	t.Parallel()

	frame, err := Encode(SubscribeRequest{Topic: "offers"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// One byte short of the declared length.
	_, err = Decode(frame[:len(frame)-1])
	var framingErr *FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("Decode(short): got %v, want FramingError", err)
	}

	// One byte beyond the declared length.
	_, err = Decode(append(append([]byte{}, frame...), 0x00))
	if !errors.As(err, &framingErr) {
		t.Fatalf("Decode(long): got %v, want FramingError", err)
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte{0x00, 0x01, 0x02})
	var framingErr *FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("Decode: got %v, want FramingError", err)
	}
}

func TestDecodeRejectsNonEmptyPingBody(t *testing.T) {
	t.Parallel()

	frame := make([]byte, HeaderLength+1)
	binary.BigEndian.PutUint32(frame[0:4], uint32(TypePing))
	binary.BigEndian.PutUint32(frame[4:8], 1)

	_, err := Decode(frame)
	var framingErr *FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("Decode: got %v, want FramingError", err)
	}
}

func TestReadFrameRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	header := make([]byte, HeaderLength)
	binary.BigEndian.PutUint32(header[0:4], uint32(TypeBroadcastRequest))
	binary.BigEndian.PutUint32(header[4:8], 1<<30)

	_, err := ReadFrame(bytes.NewReader(header), 1024)
	var framingErr *FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("ReadFrame: got %v, want FramingError", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	t.Parallel()

	frame, err := Encode(BroadcastRequest{Topic: "offers", Data: []byte("payload")})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = ReadFrame(bytes.NewReader(frame[:len(frame)-3]), 0)
	var framingErr *FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("ReadFrame: got %v, want FramingError", err)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	t.Parallel()

	_, err := ReadFrame(bytes.NewReader(nil), 0)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame on empty stream: got %v, want io.EOF", err)
	}
}

func TestReadFrameMaxDeclaredLength(t *testing.T) {
	t.Parallel()

	// A frame whose body length equals the limit exactly is accepted.
	payload := bytes.Repeat([]byte{0xAB}, 512)
	frame, err := Encode(BroadcastRequest{Topic: "bulk", Data: payload})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	limit := uint32(len(frame) - HeaderLength)

	got, err := ReadFrame(bytes.NewReader(frame), limit)
	if err != nil {
		t.Fatalf("ReadFrame at exact limit: %v", err)
	}
	if !bytes.Equal(got.(BroadcastRequest).Data, payload) {
		t.Error("payload mismatch after decode at exact limit")
	}

	// One byte lower and the same frame is rejected.
	if _, err := ReadFrame(bytes.NewReader(frame), limit-1); err == nil {
		t.Fatal("ReadFrame below limit succeeded, want FramingError")
	}
}
