// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implements LocalDrop's binary frame protocol: a fixed
// 11-byte header (magic, version, message type, payload length) followed
// by a JSON or compact-binary payload, over a single TLS connection
// (peers authenticate each other in the handshake, not via certificates).
package wire

import "errors"

// Magic identifies a LocalDrop frame: 'L','D','R','P'.
var Magic = [4]byte{0x4C, 0x44, 0x52, 0x50}

// ProtocolVersionMajor and ProtocolVersionMinor are written on every frame.
const (
	ProtocolVersionMajor byte = 0x01
	ProtocolVersionMinor byte = 0x00
)

// HeaderSize is the fixed size, in bytes, of a frame header:
// magic(4) + major(1) + minor(1) + message_type(1) + payload_length(4).
const HeaderSize = 11

// MaxPayloadSize bounds a single frame's payload at 16 MiB.
const MaxPayloadSize = 16 * 1024 * 1024

// MessageType identifies the payload that follows a frame header.
type MessageType byte

// Message type taxonomy. Values are stable across versions; new types
// are appended, never renumbered.
const (
	MsgHello MessageType = 0x01
	MsgHelloAck MessageType = 0x02
	MsgCodeVerify MessageType = 0x03
	MsgCodeVerifyAck MessageType = 0x04
	MsgDeviceAuth MessageType = 0x05

	MsgFileList MessageType = 0x10
	MsgFileListAck MessageType = 0x11
	MsgPreviewRequest MessageType = 0x12
	MsgPreviewData MessageType = 0x13

	MsgChunkStart MessageType = 0x20
	MsgChunkData MessageType = 0x21
	MsgChunkAck MessageType = 0x22

	MsgTransferComplete MessageType = 0x30
	MsgTransferCancel   MessageType = 0x31
	MsgPing             MessageType = 0x32
	MsgPong             MessageType = 0x33

	MsgResumeRequest MessageType = 0x40
	MsgResumeAck     MessageType = 0x41

	MsgClipboardMeta    MessageType = 0x50
	MsgClipboardData    MessageType = 0x51
	MsgClipboardAck     MessageType = 0x52
	MsgClipboardChanged MessageType = 0x53
	MsgClipboardRequest MessageType = 0x54

	MsgError MessageType = 0xFF
)

// Protocol-level errors. These terminate the session when encountered.
var (
	ErrInvalidMagic   = errors.New("wire: invalid frame magic")
	ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")
	ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum frame size")
	ErrUnknownMessageType = errors.New("wire: unknown message type")
)

// Header is the decoded, fixed-size prefix of every frame.
type Header struct {
	VersionMajor  byte
	VersionMinor  byte
	MessageType   MessageType
	PayloadLength uint32
}

// Encode serializes h into the wire's 11-byte header format.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:4], Magic[:])
	buf[4] = h.VersionMajor
	buf[5] = h.VersionMinor
	buf[6] = byte(h.MessageType)
	buf[7] = byte(h.PayloadLength >> 24)
	buf[8] = byte(h.PayloadLength >> 16)
	buf[9] = byte(h.PayloadLength >> 8)
	buf[10] = byte(h.PayloadLength)
	return buf
}

// DecodeHeader validates and parses an 11-byte buffer into a Header.
func DecodeHeader(buf [HeaderSize]byte) (Header, error) {
	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	if buf[4] != ProtocolVersionMajor {
		return Header{}, ErrUnsupportedVersion
	}

	length := uint32(buf[7])<<24 | uint32(buf[8])<<16 | uint32(buf[9])<<8 | uint32(buf[10])
	if length > MaxPayloadSize {
		return Header{}, ErrPayloadTooLarge
	}

	return Header{
		VersionMajor:  buf[4],
		VersionMinor:  buf[5],
		MessageType:   MessageType(buf[6]),
		PayloadLength: length,
	}, nil
}
