// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/localdrop/localdrop/internal/history"
	"github.com/localdrop/localdrop/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSourceFile(t *testing.T, dir, name, content string) FileSource {
	t.Helper()
	abs := filepath.Join(dir, name)
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return FileSource{AbsPath: abs, Meta: wire.FileMetadata{RelativePath: name, Size: uint64(len(content))}}
}

func TestSenderReceiverRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	files := []FileSource{
		writeSourceFile(t, srcDir, "hello.txt", "hello, localdrop"),
		writeSourceFile(t, srcDir, "empty.txt", ""),
	}

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	senderDone := make(chan error, 1)
	go func() {
		sender := NewSender(testLogger())
		senderDone <- sender.Run(ctx, serverConn, SenderOptions{
			DeviceName: "sender-device",
			Code:       "A7K9",
			Files:      files,
			ChunkSize:  4,
		})
	}()

	receiver := NewReceiver(testLogger())
	err := receiver.Run(ctx, clientConn, ReceiverOptions{
		DeviceName: "receiver-device",
		Code:       "A7K9",
		OutputDir:  dstDir,
		AutoAccept: true,
	})
	if err != nil {
		t.Fatalf("Receiver.Run: %v", err)
	}
	if err := <-senderDone; err != nil {
		t.Fatalf("Sender.Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "hello.txt"))
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if string(got) != "hello, localdrop" {
		t.Fatalf("expected %q, got %q", "hello, localdrop", got)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "empty.txt")); err != nil {
		t.Fatalf("expected empty.txt to be written: %v", err)
	}

	if receiver.State() != StateCompleted {
		t.Fatalf("expected receiver to finish Completed, got %v", receiver.State())
	}
}

func TestSenderReceiverWrongCodeFails(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	senderDone := make(chan error, 1)
	go func() {
		sender := NewSender(testLogger())
		senderDone <- sender.Run(ctx, serverConn, SenderOptions{
			DeviceName: "sender-device",
			Code:       "A7K9",
		})
	}()

	receiver := NewReceiver(testLogger())
	err := receiver.Run(ctx, clientConn, ReceiverOptions{
		DeviceName: "receiver-device",
		Code:       "WRONG",
		AutoAccept: true,
	})
	if err == nil {
		t.Fatal("expected a code mismatch error")
	}
	se, ok := err.(*SessionError)
	if !ok || se.Kind != KindInvalidCode {
		t.Fatalf("expected KindInvalidCode, got %v", err)
	}
	<-senderDone
}

func TestReceiverDeclinesManifest(t *testing.T) {
	srcDir := t.TempDir()
	files := []FileSource{writeSourceFile(t, srcDir, "a.txt", "data")}

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	histStore, err := history.Open(filepath.Join(t.TempDir(), "history.json"), 10, 0)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}

	senderDone := make(chan error, 1)
	go func() {
		sender := NewSender(testLogger())
		senderDone <- sender.Run(ctx, serverConn, SenderOptions{
			DeviceName: "sender-device",
			Code:       "A7K9",
			Files:      files,
			History:    histStore,
		})
	}()

	receiver := NewReceiver(testLogger())
	err = receiver.Run(ctx, clientConn, ReceiverOptions{
		DeviceName: "receiver-device",
		Code:       "A7K9",
		AutoAccept: false,
		Decide:     func(wire.FileList) bool { return false },
	})
	if err != nil {
		t.Fatalf("Receiver.Run: %v", err)
	}
	if receiver.State() != StateCancelled {
		t.Fatalf("expected receiver to end Cancelled, got %v", receiver.State())
	}
	if err := <-senderDone; err != nil {
		t.Fatalf("Sender.Run: %v", err)
	}

	entries := histStore.All()
	if len(entries) != 1 || entries[0].State != history.StateCancelled {
		t.Fatalf("expected a single cancelled history entry, got %+v", entries)
	}
}
