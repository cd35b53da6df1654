// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package clipboard

import (
	"net"
	"testing"
	"time"

	"github.com/localdrop/localdrop/internal/transfer"
	"github.com/localdrop/localdrop/internal/wire"
)

func TestSendRecvClipboardRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sent := TextContent("shared from the other device")
	errCh := make(chan error, 1)
	go func() { errCh <- sendClipboard(server, sent, 2*time.Second) }()

	got, err := recvClipboard(client, 2*time.Second)
	if err != nil {
		t.Fatalf("recvClipboard: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("sendClipboard: %v", err)
	}
	if got.Text != sent.Text || got.IsImage {
		t.Fatalf("expected %+v, got %+v", sent, got)
	}
}

func TestRecvClipboardChecksumMismatch(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		meta := wire.ClipboardMeta{ContentType: wire.ClipboardContentText, Size: 5, Checksum: 0xdeadbeef}
		if err := wire.WriteFrameTimeout(server, wire.MsgClipboardMeta, mustJSON(meta), 2*time.Second); err != nil {
			errCh <- err
			return
		}
		errCh <- wire.WriteFrameTimeout(server, wire.MsgClipboardData, mustJSON(wire.ClipboardData{Data: []byte("hello")}), 2*time.Second)
	}()

	_, err := recvClipboard(client, 2*time.Second)
	if err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
	se := err.(*transfer.SessionError)
	if se.Kind != transfer.KindChecksumMismatch {
		t.Fatalf("expected KindChecksumMismatch, got %v", se.Kind)
	}
	if sendErr := <-errCh; sendErr != nil {
		t.Fatalf("writing fixture frames: %v", sendErr)
	}
}

func TestRecvClipboardSizeMismatch(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		meta := wire.ClipboardMeta{ContentType: wire.ClipboardContentText, Size: 999}
		if err := wire.WriteFrameTimeout(server, wire.MsgClipboardMeta, mustJSON(meta), 2*time.Second); err != nil {
			errCh <- err
			return
		}
		errCh <- wire.WriteFrameTimeout(server, wire.MsgClipboardData, mustJSON(wire.ClipboardData{Data: []byte("short")}), 2*time.Second)
	}()

	_, err := recvClipboard(client, 2*time.Second)
	if err == nil {
		t.Fatal("expected a size mismatch error")
	}
	se := err.(*transfer.SessionError)
	if se.Kind != transfer.KindProtocolError {
		t.Fatalf("expected KindProtocolError, got %v", se.Kind)
	}
	if sendErr := <-errCh; sendErr != nil {
		t.Fatalf("writing fixture frames: %v", sendErr)
	}
}

func TestNewSessionInitialState(t *testing.T) {
	s := NewSession(testLogger())
	if s.State() != transfer.StatePreparing {
		t.Fatalf("expected a new session to start Preparing, got %v", s.State())
	}
}
