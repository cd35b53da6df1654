// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/localdrop/localdrop/internal/wire"
)

// defaultKeepAliveInterval matches spec §4.4's 5-second Ping cadence.
const defaultKeepAliveInterval = 5 * time.Second

// runKeepAlive writes a Ping every interval and reads back the peer's
// Pong, until ctx is cancelled or a frame I/O error/timeout occurs.
// Either side of a transfer session may run this loop for the duration
// it is waiting on the other (accept, user decision, chunk streaming).
func runKeepAlive(ctx context.Context, conn wireConn, interval, frameTimeout time.Duration) error {
	if interval <= 0 {
		interval = defaultKeepAliveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := wire.WriteFrameTimeout(conn, wire.MsgPing, nil, frameTimeout); err != nil {
				return NewSessionError(KindIO, "writing keep-alive Ping: %v", err)
			}
			frame, err := wire.ReadFrame(conn, frameTimeout)
			if err != nil {
				return NewSessionError(KindTimeout, "awaiting keep-alive Pong: %v", err)
			}
			if frame.Header.MessageType != wire.MsgPong {
				return NewSessionError(KindProtocolError, "expected Pong during keep-alive, got %02x", frame.Header.MessageType)
			}
		}
	}
}

// peekResumeRequest does a single non-blocking-ish read attempt for a
// ResumeRequest frame that the receiver may send immediately after
// FileListAck{accepted:true}, before the sender starts streaming
// chunks. Protocol messages besides ResumeRequest at this point are
// not expected per §4.4/§4.5, so anything else is treated as "no
// resume request" and the frame is discarded, not handed back to the
// caller — since this is the one place a receiver is allowed to insert an
// extra message, callers only invoke this right after FileListAck.
func peekResumeRequest(conn wireConn, timeout time.Duration) (wire.Frame, bool) {
	shortTimeout := timeout
	if shortTimeout == 0 || shortTimeout > 500*time.Millisecond {
		shortTimeout = 500 * time.Millisecond
	}
	frame, err := wire.ReadFrame(conn, shortTimeout)
	if err != nil {
		return wire.Frame{}, false
	}
	if frame.Header.MessageType != wire.MsgResumeRequest {
		return wire.Frame{}, false
	}
	return frame, true
}

// jsonMarshal is the sole place transfer encodes JSON payloads, kept
// as a thin indirection so mustJSON's panic message stays the only
// place a marshaling failure (always a programmer error for these
// well-formed internal types) surfaces.
func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
