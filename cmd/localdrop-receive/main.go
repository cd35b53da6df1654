// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/localdrop/localdrop/internal/config"
	"github.com/localdrop/localdrop/internal/discovery"
	"github.com/localdrop/localdrop/internal/history"
	"github.com/localdrop/localdrop/internal/identity"
	"github.com/localdrop/localdrop/internal/logging"
	"github.com/localdrop/localdrop/internal/maintenance"
	"github.com/localdrop/localdrop/internal/resume"
	"github.com/localdrop/localdrop/internal/sharecode"
	"github.com/localdrop/localdrop/internal/tlsadapter"
	"github.com/localdrop/localdrop/internal/transfer"
	"github.com/localdrop/localdrop/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults are used if unset)")
	outputDir := flag.String("output", ".", "directory files are written into")
	batch := flag.Bool("batch", false, "accept the manifest without prompting")
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: localdrop-receive [--config path] [--output dir] [--batch] <code>")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.FilePath)
	defer logCloser.Close()

	if err := run(cfg, args[0], *outputDir, *batch, logger); err != nil {
		logger.Error("receive failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, rawCode, outputDir string, batch bool, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code, err := sharecode.Parse(rawCode)
	if err != nil {
		return err
	}

	dataDir, err := identity.DataDir()
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}

	sessionID := uuid.New().String()
	sessionLog, closeSessionLog, sessionLogPath, err := logging.NewSessionLogger(log, filepath.Join(dataDir, "sessions"), "receive", sessionID)
	if err != nil {
		return fmt.Errorf("opening session log: %w", err)
	}
	log = sessionLog
	defer closeSessionLog.Close()
	succeeded := false
	defer func() {
		if succeeded {
			logging.RemoveSessionLog(filepath.Join(dataDir, "sessions"), "receive", sessionID)
		}
	}()
	log.Info("receive session starting", "session_log", sessionLogPath, "code", code)

	if _, err := identity.LoadOrGenerate(filepath.Join(dataDir, "identity.json")); err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}

	historyStore, err := history.Open(filepath.Join(dataDir, "history.json"), cfg.History.MaxEntries, cfg.History.AutoClearDays)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	resumeMgr, err := resume.NewManager(filepath.Join(dataDir, "resume"))
	if err != nil {
		return fmt.Errorf("opening resume manager: %w", err)
	}

	janitor := maintenance.New(resumeMgr, historyStore, cfg.History.AutoClearDays, log)
	if err := janitor.Start(""); err != nil {
		return fmt.Errorf("starting maintenance janitor: %w", err)
	}
	defer janitor.Stop()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	discoveryTimeout := config.Duration(cfg.Discovery.Timeout, 15*time.Second)
	retryPolicy := discovery.RetryPolicy{
		MaxAttempts:  cfg.Discovery.RetryMaxAttempts,
		InitialDelay: config.Duration(cfg.Discovery.RetryInitialDelay, 250*time.Millisecond),
		MaxDelay:     config.Duration(cfg.Discovery.RetryMaxDelay, 5*time.Second),
	}

	fmt.Printf("Searching for code %s...\n", code)
	ann, err := discovery.FindWithFallback(ctx, cfg.Network.DiscoveryPort, code, retryPolicy, discoveryTimeout, nil, log)
	if err != nil {
		return fmt.Errorf("finding share %s: %w", code, err)
	}

	host, _, err := net.SplitHostPort(ann.Source.String())
	if err != nil {
		host = hostOnly(ann.Source)
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", ann.Packet.TransferPort))

	log.Info("connecting to peer", "addr", addr, "device", ann.Packet.DeviceName)
	rawConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	conn := tls.Client(rawConn, tlsadapter.NewClientConfig())

	receiver := transfer.NewReceiver(log)
	progressEvents := make(chan transfer.ProgressEvent, 16)
	go drainProgress(progressEvents, log)

	// Per-chunk acks follow transfer.per_chunk_ack; with it off, the
	// receiver acks only failed chunks.
	chunkAckEvery := 0
	if cfg.Transfer.PerChunkAck {
		chunkAckEvery = 1
	}

	err = receiver.Run(ctx, conn, transfer.ReceiverOptions{
		DeviceName:        cfg.General.DeviceName,
		Code:              code,
		OutputDir:         outputDir,
		AutoAccept:        batch,
		ChunkAckEvery:     chunkAckEvery,
		KeepAliveInterval: config.Duration(cfg.Transfer.KeepAliveInterval, 5*time.Second),
		SessionTimeout:    config.Duration(cfg.Transfer.SessionTimeout, 5*time.Minute),
		FrameIOTimeout:    config.Duration(cfg.Transfer.FrameIOTimeout, 30*time.Second),
		History:           historyStore,
		Resume:            resumeMgr,
		Decide: func(list wire.FileList) bool {
			fmt.Printf("Incoming %d file(s), %d bytes total. Accept? [y/N]: ", len(list.Files), list.TotalSize)
			var answer string
			fmt.Scanln(&answer)
			return answer == "y" || answer == "Y"
		},
	})
	close(progressEvents)
	if err != nil {
		return fmt.Errorf("transfer session: %w", err)
	}

	fmt.Printf("Files written to %s\n", outputDir)
	succeeded = true
	return nil
}

func hostOnly(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return addr.String()
}

func drainProgress(events <-chan transfer.ProgressEvent, log *slog.Logger) {
	for ev := range events {
		log.Debug("progress", "file", ev.FileName, "bytes_received", ev.BytesTransferred, "total_bytes", ev.TotalBytes)
	}
}
