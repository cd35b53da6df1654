// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/localdrop/localdrop/internal/identity"
	"github.com/localdrop/localdrop/internal/sharecode"
	"github.com/localdrop/localdrop/internal/wire"
)

// deviceAuthFreshness bounds how old a DeviceAuth timestamp may be.
const deviceAuthFreshness = 60 * time.Second

// PeerInfo is what a completed handshake learns about the other side.
type PeerInfo struct {
	DeviceName string
	DeviceID   uuid.UUID
	HasDevice  bool
}

// wireConn is the connection surface wire.ReadFrame/WriteFrame need. It
// mirrors wire's own unexported deadlineConn method set structurally,
// so any net.Conn can be passed straight through to the wire package's
// frame functions via this package's exported entry points.
type wireConn interface {
	io.Reader
	io.Writer
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// DeviceAuthVerifier checks a DeviceAuth frame's signature against the
// claimed device's stored public key, returning the device's display
// name on success.
type DeviceAuthVerifier func(auth wire.DeviceAuth) (deviceName string, ok bool)

// ServerHandshake runs the accepting side of §4.2. For a share-code
// pairing, code is the expected share code and verifyDevice is nil. For
// trusted-device pairing, code is empty and verifyDevice validates the
// client's signed DeviceAuth frame instead.
func ServerHandshake(conn wireConn, deviceName, code string, verifyDevice DeviceAuthVerifier) (PeerInfo, error) {
	helloFrame, err := wire.ReadFrame(conn, 0)
	if err != nil {
		return PeerInfo{}, NewSessionError(KindProtocolError, "peer closed before Hello: %v", err)
	}
	if helloFrame.Header.MessageType != wire.MsgHello {
		return PeerInfo{}, NewSessionError(KindProtocolError, "expected Hello, got %02x", helloFrame.Header.MessageType)
	}
	var hello wire.Hello
	if err := wire.DecodeJSON(helloFrame, &hello); err != nil {
		return PeerInfo{}, NewSessionError(KindSerialization, "decoding Hello: %v", err)
	}

	if err := wire.WriteJSON(conn, wire.MsgHelloAck, wire.HelloAck{DeviceName: deviceName}); err != nil {
		return PeerInfo{}, NewSessionError(KindIO, "writing HelloAck: %v", err)
	}

	frame, err := wire.ReadFrame(conn, 0)
	if err != nil {
		return PeerInfo{}, NewSessionError(KindProtocolError, "peer closed during handshake: %v", err)
	}

	switch frame.Header.MessageType {
	case wire.MsgCodeVerify:
		var verify wire.CodeVerify
		if err := wire.DecodeJSON(frame, &verify); err != nil {
			return PeerInfo{}, NewSessionError(KindSerialization, "decoding CodeVerify: %v", err)
		}
		if code == "" || !sharecode.VerifyHMAC(code, verify.CodeHMAC) {
			wire.WriteJSON(conn, wire.MsgCodeVerifyAck, wire.CodeVerifyAck{Success: false, Error: "code mismatch"})
			return PeerInfo{}, NewSessionError(KindInvalidCode, "%s", code)
		}
		if err := wire.WriteJSON(conn, wire.MsgCodeVerifyAck, wire.CodeVerifyAck{Success: true}); err != nil {
			return PeerInfo{}, NewSessionError(KindIO, "writing CodeVerifyAck: %v", err)
		}
		return PeerInfo{DeviceName: hello.DeviceName}, nil

	case wire.MsgDeviceAuth:
		if verifyDevice == nil {
			return PeerInfo{}, NewSessionError(KindDeviceNotTrusted, "device auth offered but no verifier configured")
		}
		var auth wire.DeviceAuth
		if err := wire.DecodeJSON(frame, &auth); err != nil {
			return PeerInfo{}, NewSessionError(KindSerialization, "decoding DeviceAuth: %v", err)
		}
		peerName, ok := verifyDevice(auth)
		if !ok {
			return PeerInfo{}, NewSessionError(KindSignatureInvalid, "device auth rejected for %s", auth.DeviceID)
		}
		return PeerInfo{DeviceName: hello.DeviceName, DeviceID: auth.DeviceID, HasDevice: true}, nil

	default:
		return PeerInfo{}, NewSessionError(KindProtocolError, "unexpected message type %02x during handshake", frame.Header.MessageType)
	}
}

// ClientHandshake runs the connecting side of §4.2's share-code path:
// Hello/HelloAck then CodeVerify, using code to prove knowledge of the
// pairing secret.
func ClientHandshake(conn wireConn, deviceName, code string) (PeerInfo, error) {
	if err := wire.WriteJSON(conn, wire.MsgHello, wire.Hello{DeviceName: deviceName, ProtocolVersion: "1.0"}); err != nil {
		return PeerInfo{}, NewSessionError(KindIO, "writing Hello: %v", err)
	}

	ackFrame, err := wire.ReadFrame(conn, 0)
	if err != nil {
		return PeerInfo{}, NewSessionError(KindProtocolError, "peer closed before HelloAck: %v", err)
	}
	var ack wire.HelloAck
	if err := wire.DecodeJSON(ackFrame, &ack); err != nil {
		return PeerInfo{}, NewSessionError(KindSerialization, "decoding HelloAck: %v", err)
	}

	hmac := sharecode.ComputeHMAC(code)
	if err := wire.WriteJSON(conn, wire.MsgCodeVerify, wire.CodeVerify{CodeHMAC: hmac}); err != nil {
		return PeerInfo{}, NewSessionError(KindIO, "writing CodeVerify: %v", err)
	}

	verifyFrame, err := wire.ReadFrame(conn, 0)
	if err != nil {
		return PeerInfo{}, NewSessionError(KindProtocolError, "peer closed during code verification: %v", err)
	}
	var verifyAck wire.CodeVerifyAck
	if err := wire.DecodeJSON(verifyFrame, &verifyAck); err != nil {
		return PeerInfo{}, NewSessionError(KindSerialization, "decoding CodeVerifyAck: %v", err)
	}
	if !verifyAck.Success {
		return PeerInfo{}, NewSessionError(KindInvalidCode, "%s", verifyAck.Error)
	}

	return PeerInfo{DeviceName: ack.DeviceName}, nil
}

// ClientDeviceHandshake runs the connecting side of trusted-device
// pairing: Hello/HelloAck then a signed DeviceAuth frame.
func ClientDeviceHandshake(conn wireConn, deviceName string, auth wire.DeviceAuth) (PeerInfo, error) {
	if err := wire.WriteJSON(conn, wire.MsgHello, wire.Hello{DeviceName: deviceName, ProtocolVersion: "1.0"}); err != nil {
		return PeerInfo{}, NewSessionError(KindIO, "writing Hello: %v", err)
	}
	ackFrame, err := wire.ReadFrame(conn, 0)
	if err != nil {
		return PeerInfo{}, NewSessionError(KindProtocolError, "peer closed before HelloAck: %v", err)
	}
	var ack wire.HelloAck
	if err := wire.DecodeJSON(ackFrame, &ack); err != nil {
		return PeerInfo{}, NewSessionError(KindSerialization, "decoding HelloAck: %v", err)
	}
	if err := wire.WriteJSON(conn, wire.MsgDeviceAuth, auth); err != nil {
		return PeerInfo{}, NewSessionError(KindIO, "writing DeviceAuth: %v", err)
	}
	return PeerInfo{DeviceName: ack.DeviceName}, nil
}

// SignDeviceAuth builds the signature payload §4.2.4 describes:
// device_id || transfer_id || unix_timestamp (big-endian), signed with
// the caller's Ed25519 key.
func SignDeviceAuth(id *identity.Identity, transferID uuid.UUID) wire.DeviceAuth {
	now := time.Now().Unix()
	payload := deviceAuthPayload(id.DeviceID, transferID, now)
	return wire.DeviceAuth{
		DeviceID:   id.DeviceID,
		TransferID: transferID,
		Timestamp:  now,
		Signature:  id.Sign(payload),
	}
}

// VerifyDeviceAuth checks auth's signature against pub and its
// timestamp against the freshness window.
func VerifyDeviceAuth(auth wire.DeviceAuth, pub []byte) error {
	if math.Abs(float64(time.Now().Unix()-auth.Timestamp)) > deviceAuthFreshness.Seconds() {
		return NewSessionError(KindSignatureInvalid, "device auth timestamp outside freshness window")
	}
	payload := deviceAuthPayload(auth.DeviceID, auth.TransferID, auth.Timestamp)
	if !identity.Verify(pub, payload, auth.Signature) {
		return NewSessionError(KindSignatureInvalid, "device auth signature does not verify")
	}
	return nil
}

func deviceAuthPayload(deviceID, transferID uuid.UUID, timestamp int64) []byte {
	buf := make([]byte, 16+16+8)
	copy(buf[0:16], deviceID[:])
	copy(buf[16:32], transferID[:])
	binary.BigEndian.PutUint64(buf[32:40], uint64(timestamp))
	return buf
}
