// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package clipboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/localdrop/localdrop/internal/transfer"
	"github.com/localdrop/localdrop/internal/wire"
)

// defaultPollInterval matches spec §4.6's 500ms live-sync polling cadence.
const defaultPollInterval = 500 * time.Millisecond

// SessionOptions configures a one-shot share/receive or a live Sync.
type SessionOptions struct {
	DeviceName     string
	Code           string
	PollInterval   time.Duration
	FrameIOTimeout time.Duration
	WriteWaitTime  time.Duration
}

// Session drives a clipboard session's state machine, sharing
// transfer.State's values with file-transfer sessions.
type Session struct {
	log         *slog.Logger
	state       transfer.State
	pendingSend *Content
}

// NewSession returns a Session bound to log.
func NewSession(log *slog.Logger) *Session {
	return &Session{log: log.With("component", "clipboard_session"), state: transfer.StatePreparing}
}

// State returns the session's current state.
func (s *Session) State() transfer.State { return s.state }

// ShareOnce reads the local clipboard once and sends it to conn's peer,
// failing with KindClipboardEmpty if there is nothing to share.
func (s *Session) ShareOnce(conn net.Conn, access *Access, opts SessionOptions) error {
	defer conn.Close()
	frameTimeout := opts.FrameIOTimeout
	if frameTimeout == 0 {
		frameTimeout = 30 * time.Second
	}

	if _, err := transfer.ServerHandshake(conn, opts.DeviceName, opts.Code, nil); err != nil {
		s.state = transfer.StateFailed
		return err
	}
	s.state = transfer.StateConnected

	content, err := access.ReadContent()
	if err != nil {
		s.state = transfer.StateFailed
		return err
	}
	if content.Empty() {
		s.state = transfer.StateFailed
		return transfer.NewSessionError(transfer.KindClipboardEmpty, "clipboard has no text or image content")
	}

	s.state = transfer.StateTransferring
	if err := sendClipboard(conn, content, frameTimeout); err != nil {
		s.state = transfer.StateFailed
		return err
	}

	ackFrame, err := wire.ReadFrame(conn, frameTimeout)
	if err != nil {
		s.state = transfer.StateFailed
		return transfer.NewSessionError(transfer.KindProtocolError, "peer closed awaiting ClipboardAck: %v", err)
	}
	var ack wire.ClipboardAck
	if err := wire.DecodeJSON(ackFrame, &ack); err != nil || !ack.Success {
		s.state = transfer.StateFailed
		return transfer.NewSessionError(transfer.KindProtocolError, "peer did not acknowledge clipboard content")
	}
	s.state = transfer.StateCompleted
	return nil
}

// ReceiveOnce connects, accepts one ClipboardMeta/ClipboardData pair and
// writes it to the local clipboard.
func (s *Session) ReceiveOnce(ctx context.Context, conn net.Conn, access *Access, opts SessionOptions) error {
	defer conn.Close()
	frameTimeout := opts.FrameIOTimeout
	if frameTimeout == 0 {
		frameTimeout = 30 * time.Second
	}
	waitTime := opts.WriteWaitTime
	if waitTime == 0 {
		waitTime = 3 * time.Second
	}

	if _, err := transfer.ClientHandshake(conn, opts.DeviceName, opts.Code); err != nil {
		s.state = transfer.StateFailed
		return err
	}
	s.state = transfer.StateConnected
	s.state = transfer.StateTransferring

	content, err := recvClipboard(conn, frameTimeout)
	if err != nil {
		s.state = transfer.StateFailed
		wire.WriteFrameTimeout(conn, wire.MsgClipboardAck, mustJSON(wire.ClipboardAck{Success: false}), frameTimeout)
		return err
	}

	if err := access.WriteAndWait(ctx, content, waitTime); err != nil {
		s.state = transfer.StateFailed
		wire.WriteFrameTimeout(conn, wire.MsgClipboardAck, mustJSON(wire.ClipboardAck{Success: false}), frameTimeout)
		return err
	}

	if err := wire.WriteFrameTimeout(conn, wire.MsgClipboardAck, mustJSON(wire.ClipboardAck{Success: true}), frameTimeout); err != nil {
		s.state = transfer.StateFailed
		return transfer.NewSessionError(transfer.KindIO, "writing ClipboardAck: %v", err)
	}
	s.state = transfer.StateCompleted
	return nil
}

// Sync runs bidirectional live clipboard synchronization until ctx is
// cancelled. Each side polls its local clipboard at PollInterval and
// announces a ClipboardChanged when the content hash differs from both
// the last hash this side sent and the last hash it received — the
// echo-suppression rule spec §4.6/§5 requires so neither side
// re-broadcasts content it just received from the other. A background
// read loop answers the peer's ClipboardChanged/ClipboardRequest/Ping
// traffic concurrently with the local poll ticker.
func (s *Session) Sync(ctx context.Context, conn net.Conn, access *Access, opts SessionOptions, isServer bool) error {
	defer conn.Close()
	frameTimeout := opts.FrameIOTimeout
	if frameTimeout == 0 {
		frameTimeout = 30 * time.Second
	}
	poll := opts.PollInterval
	if poll == 0 {
		poll = defaultPollInterval
	}

	var err error
	if isServer {
		_, err = transfer.ServerHandshake(conn, opts.DeviceName, opts.Code, nil)
	} else {
		_, err = transfer.ClientHandshake(conn, opts.DeviceName, opts.Code)
	}
	if err != nil {
		s.state = transfer.StateFailed
		return err
	}
	s.state = transfer.StateConnected
	s.state = transfer.StateTransferring

	readErrCh := make(chan error, 1)
	var receivedHash uint64
	go func() { readErrCh <- s.syncReadLoop(ctx, conn, access, frameTimeout, &receivedHash) }()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	// limiter admits at most one clipboard check per poll interval. It is
	// built from the same interval as the ticker, so it sets no floor of
	// its own: a short PollInterval allows checks at that same short rate.
	limiter := rate.NewLimiter(rate.Every(poll), 1)

	var sentHash uint64
	for {
		select {
		case <-ctx.Done():
			s.state = transfer.StateCancelled
			return nil
		case err := <-readErrCh:
			if err != nil {
				s.state = transfer.StateFailed
				return err
			}
			return nil
		case <-ticker.C:
			if !limiter.Allow() {
				continue
			}
			hash := access.ContentHash()
			if hash == 0 || hash == sentHash || hash == receivedHash {
				continue
			}
			content, err := access.ReadContent()
			if err != nil || content.Empty() {
				continue
			}
			contentType, size, checksum, ts := content.Meta(time.Now())
			if err := wire.WriteFrameTimeout(conn, wire.MsgClipboardChanged, mustJSON(wire.ClipboardChanged{
				ContentType: contentType, Size: size, Checksum: checksum, Timestamp: ts,
			}), frameTimeout); err != nil {
				s.state = transfer.StateFailed
				return transfer.NewSessionError(transfer.KindIO, "writing ClipboardChanged: %v", err)
			}
			sentHash = hash
			s.pendingSend = &content
		}
	}
}

// syncReadLoop answers the peer's clipboard-sync traffic: keep-alive
// Pings, ClipboardChanged announcements (which it follows with a
// ClipboardRequest and then applies the resulting content locally), and
// ClipboardRequest (which it answers by streaming s.pendingSend, set by
// Sync's poll loop after its own most recent ClipboardChanged).
func (s *Session) syncReadLoop(ctx context.Context, conn net.Conn, access *Access, frameTimeout time.Duration, receivedHash *uint64) error {
	for {
		frame, err := wire.ReadFrame(conn, frameTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return transfer.NewSessionError(transfer.KindIO, "reading clipboard sync frame: %v", err)
		}
		switch frame.Header.MessageType {
		case wire.MsgPing:
			wire.WriteFrameTimeout(conn, wire.MsgPong, nil, frameTimeout)
		case wire.MsgPong:
			// no-op: sync sessions do not initiate their own keep-alive pings
		case wire.MsgClipboardChanged:
			if err := wire.WriteFrameTimeout(conn, wire.MsgClipboardRequest, mustJSON(wire.ClipboardRequest{}), frameTimeout); err != nil {
				return transfer.NewSessionError(transfer.KindIO, "writing ClipboardRequest: %v", err)
			}
			content, err := recvClipboard(conn, frameTimeout)
			if err != nil {
				return err
			}
			if err := access.WriteContent(content); err != nil {
				return err
			}
			*receivedHash = content.ContentHash()
		case wire.MsgClipboardRequest:
			if s.pendingSend != nil {
				if err := sendClipboard(conn, *s.pendingSend, frameTimeout); err != nil {
					return err
				}
				s.pendingSend = nil
			}
		default:
			return transfer.NewSessionError(transfer.KindProtocolError, "unexpected message %02x during clipboard sync", frame.Header.MessageType)
		}
	}
}

func sendClipboard(conn net.Conn, content Content, frameTimeout time.Duration) error {
	contentType, size, checksum, ts := content.Meta(time.Now())
	meta := wire.ClipboardMeta{ContentType: contentType, Size: size, Checksum: checksum, Timestamp: ts, Width: content.Width, Height: content.Height}
	if err := wire.WriteFrameTimeout(conn, wire.MsgClipboardMeta, mustJSON(meta), frameTimeout); err != nil {
		return transfer.NewSessionError(transfer.KindIO, "writing ClipboardMeta: %v", err)
	}
	if err := wire.WriteFrameTimeout(conn, wire.MsgClipboardData, mustJSON(wire.ClipboardData{Data: content.bytes()}), frameTimeout); err != nil {
		return transfer.NewSessionError(transfer.KindIO, "writing ClipboardData: %v", err)
	}
	return nil
}

func recvClipboard(conn net.Conn, frameTimeout time.Duration) (Content, error) {
	metaFrame, err := wire.ReadFrame(conn, frameTimeout)
	if err != nil {
		return Content{}, transfer.NewSessionError(transfer.KindProtocolError, "peer closed awaiting ClipboardMeta: %v", err)
	}
	if metaFrame.Header.MessageType != wire.MsgClipboardMeta {
		return Content{}, transfer.NewSessionError(transfer.KindProtocolError, "expected ClipboardMeta, got %02x", metaFrame.Header.MessageType)
	}
	var meta wire.ClipboardMeta
	if err := wire.DecodeJSON(metaFrame, &meta); err != nil {
		return Content{}, transfer.NewSessionError(transfer.KindSerialization, "decoding ClipboardMeta: %v", err)
	}

	dataFrame, err := wire.ReadFrame(conn, frameTimeout)
	if err != nil {
		return Content{}, transfer.NewSessionError(transfer.KindProtocolError, "peer closed awaiting ClipboardData: %v", err)
	}
	if dataFrame.Header.MessageType != wire.MsgClipboardData {
		return Content{}, transfer.NewSessionError(transfer.KindProtocolError, "expected ClipboardData, got %02x", dataFrame.Header.MessageType)
	}
	var data wire.ClipboardData
	if err := wire.DecodeJSON(dataFrame, &data); err != nil {
		return Content{}, transfer.NewSessionError(transfer.KindSerialization, "decoding ClipboardData: %v", err)
	}

	if uint64(len(data.Data)) != meta.Size {
		return Content{}, transfer.NewSessionError(transfer.KindProtocolError, "clipboard data size mismatch: declared %d got %d", meta.Size, len(data.Data))
	}
	content := fromWire(meta, data.Data)
	if content.ContentHash() != meta.Checksum {
		return Content{}, transfer.NewSessionError(transfer.KindChecksumMismatch, "clipboard content checksum mismatch")
	}
	return content, nil
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("clipboard: marshaling well-formed payload: %v", err))
	}
	return data
}
