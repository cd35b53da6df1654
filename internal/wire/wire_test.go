// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		VersionMajor:  ProtocolVersionMajor,
		VersionMinor:  ProtocolVersionMinor,
		MessageType:   MsgChunkData,
		PayloadLength: 1234,
	}
	encoded := h.Encode()
	decoded, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if decoded != h {
		t.Fatalf("expected %+v, got %+v", h, decoded)
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	h := Header{VersionMajor: ProtocolVersionMajor, MessageType: MsgHello}
	buf := h.Encode()
	buf[0] ^= 0xFF
	if _, err := DecodeHeader(buf); err != ErrInvalidMagic {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestDecodeHeaderRejectsBadVersion(t *testing.T) {
	h := Header{VersionMajor: ProtocolVersionMajor, MessageType: MsgHello}
	buf := h.Encode()
	buf[4] = 0x09
	if _, err := DecodeHeader(buf); err != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeHeaderRejectsOversizeLength(t *testing.T) {
	h := Header{VersionMajor: ProtocolVersionMajor, MessageType: MsgHello, PayloadLength: MaxPayloadSize + 1}
	buf := h.Encode()
	if _, err := DecodeHeader(buf); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestChunkDataPayloadRoundTrip(t *testing.T) {
	p := ChunkDataPayload{
		FileIndex:  3,
		ChunkIndex: 42,
		Checksum:   0xdeadbeefcafef00d,
		Data:       []byte("some chunk bytes"),
	}
	decoded, err := DecodeChunkDataPayload(p.Encode())
	if err != nil {
		t.Fatalf("DecodeChunkDataPayload: %v", err)
	}
	if decoded.FileIndex != p.FileIndex || decoded.ChunkIndex != p.ChunkIndex || decoded.Checksum != p.Checksum {
		t.Fatalf("expected %+v, got %+v", p, decoded)
	}
	if !bytes.Equal(decoded.Data, p.Data) {
		t.Fatalf("expected data %q, got %q", p.Data, decoded.Data)
	}
}

func TestChunkDataPayloadRejectsTruncated(t *testing.T) {
	if _, err := DecodeChunkDataPayload([]byte{1, 2, 3}); err != ErrTruncatedChunkPayload {
		t.Fatalf("expected ErrTruncatedChunkPayload, got %v", err)
	}
}

func TestFrameReadWriteRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	hello := Hello{DeviceName: "laptop", ProtocolVersion: "1.0"}
	go func() {
		_ = WriteJSON(client, MsgHello, hello)
	}()

	frame, err := ReadFrame(server, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Header.MessageType != MsgHello {
		t.Fatalf("expected MsgHello, got %02x", frame.Header.MessageType)
	}
	var got Hello
	if err := DecodeJSON(frame, &got); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got != hello {
		t.Fatalf("expected %+v, got %+v", hello, got)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteFrame(client, MsgPing, nil)
	}()
	frame, err := ReadFrame(server, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Header.MessageType != MsgPing {
		t.Fatalf("expected MsgPing, got %02x", frame.Header.MessageType)
	}

	go func() {
		_ = WriteFrame(server, MsgPong, nil)
	}()
	frame, err = ReadFrame(client, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Header.MessageType != MsgPong {
		t.Fatalf("expected MsgPong, got %02x", frame.Header.MessageType)
	}
}

func TestReadFrameTimeoutExpires(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := ReadFrame(server, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestReadFrameSucceedsBeforeTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteJSON(client, MsgCodeVerify, CodeVerify{CodeHMAC: []byte{1, 2, 3}})
	}()

	frame, err := ReadFrame(server, time.Second)
	if err != nil {
		t.Fatalf("expected no timeout, got %v", err)
	}
	if frame.Header.MessageType != MsgCodeVerify {
		t.Fatalf("expected MsgCodeVerify, got %02x", frame.Header.MessageType)
	}
}

func TestResumeRequestAckRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	req := ResumeRequest{
		TransferID:          uuid.New(),
		CompletedChunks:     map[int][]uint64{0: {0, 1}},
		CompletedFileHashes: map[int]string{},
	}
	go func() { _ = WriteJSON(client, MsgResumeRequest, req) }()

	frame, err := ReadFrame(server, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	var got ResumeRequest
	if err := DecodeJSON(frame, &got); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.TransferID != req.TransferID {
		t.Fatalf("expected transfer id %v, got %v", req.TransferID, got.TransferID)
	}
	if len(got.CompletedChunks[0]) != 2 {
		t.Fatalf("expected 2 completed chunks for file 0, got %d", len(got.CompletedChunks[0]))
	}
}
