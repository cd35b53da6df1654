// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transfer drives the sender and receiver session state
// machines over a wire.Frame connection: handshake, manifest exchange,
// chunked file transfer with resume, and completion/cancellation.
package transfer

import (
	"fmt"

	"github.com/localdrop/localdrop/internal/fileio"
)

// Kind is the closed taxonomy of session-level failures. It mirrors the
// wire-visible Error frame's (code, message) shape: Kind.Code() is what
// goes on the wire, Error() is the human-readable form kept in history.
type Kind string

const (
	KindIO               Kind = "io"
	KindTimeout          Kind = "timeout"
	KindProtocolError    Kind = "protocol_error"
	KindChecksumMismatch Kind = "checksum_mismatch"
	KindCodeNotFound     Kind = "code_not_found"
	KindInvalidCode      Kind = "invalid_code"
	KindClipboardError   Kind = "clipboard_error"
	KindClipboardEmpty   Kind = "clipboard_empty"
	KindTLSError         Kind = "tls_error"
	KindDeviceNotTrusted Kind = "device_not_trusted"
	KindSignatureInvalid Kind = "signature_invalid"
	KindConfigError      Kind = "config_error"
	KindSerialization    Kind = "serialization"
	KindCancelled        Kind = "cancelled"
)

// SessionError is a classified session failure carrying a Kind plus a
// human-readable reason. It is what gets sent on the wire as a
// wire.Error frame and recorded in history on failure.
type SessionError struct {
	Kind   Kind
	Reason string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// NewSessionError builds a SessionError.
func NewSessionError(kind Kind, format string, args ...interface{}) *SessionError {
	return &SessionError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Classify maps a generic error into a SessionError, preserving an
// existing classification and falling back to ChecksumMismatch/Io as
// appropriate. An EOF encountered mid-handshake should be classified by
// the caller as ProtocolError("peer closed") before calling Classify.
func Classify(err error) *SessionError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*SessionError); ok {
		return se
	}
	if cm, ok := err.(*fileio.ChecksumMismatchError); ok {
		return NewSessionError(KindChecksumMismatch, "%s chunk %d", cm.File, cm.Chunk)
	}
	return NewSessionError(KindIO, "%v", err)
}
