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
	"github.com/localdrop/localdrop/internal/fileio"
	"github.com/localdrop/localdrop/internal/history"
	"github.com/localdrop/localdrop/internal/identity"
	"github.com/localdrop/localdrop/internal/logging"
	"github.com/localdrop/localdrop/internal/maintenance"
	"github.com/localdrop/localdrop/internal/resume"
	"github.com/localdrop/localdrop/internal/sharecode"
	"github.com/localdrop/localdrop/internal/tlsadapter"
	"github.com/localdrop/localdrop/internal/transfer"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults are used if unset)")
	flag.Parse()
	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: localdrop-share [--config path] <file-or-dir> [more...]")
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

	if err := run(cfg, paths, logger); err != nil {
		logger.Error("share failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, paths []string, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dataDir, err := identity.DataDir()
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}

	sessionID := uuid.New().String()
	sessionLog, closeSessionLog, sessionLogPath, err := logging.NewSessionLogger(log, filepath.Join(dataDir, "sessions"), "share", sessionID)
	if err != nil {
		return fmt.Errorf("opening session log: %w", err)
	}
	log = sessionLog
	defer closeSessionLog.Close()
	succeeded := false
	defer func() {
		if succeeded {
			logging.RemoveSessionLog(filepath.Join(dataDir, "sessions"), "share", sessionID)
		}
	}()
	log.Info("share session starting", "session_log", sessionLogPath)

	id, err := identity.LoadOrGenerate(filepath.Join(dataDir, "identity.json"))
	if err != nil {
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

	// Preparing: enumerate, build the manifest, generate the code.
	var files []transfer.FileSource
	enumOpts := fileio.EnumerateOptions{FollowSymlinks: false, IncludeHidden: false}
	if err := fileio.Enumerate(ctx, paths, enumOpts, func(e fileio.Entry) error {
		meta, err := fileio.MetadataFromEntry(e)
		if err != nil {
			return err
		}
		if cfg.Preview.Enabled && !meta.IsDirectory && !meta.IsSymlink {
			if preview, err := fileio.GeneratePreview(e.AbsPath, meta, cfg.Preview.MaxImageSize, cfg.Preview.MaxTextLength); err == nil {
				meta.Preview = preview
			}
		}
		files = append(files, transfer.FileSource{AbsPath: e.AbsPath, Meta: meta})
		return nil
	}); err != nil {
		return fmt.Errorf("enumerating files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("nothing to share under %v", paths)
	}

	code, err := sharecode.Generate()
	if err != nil {
		return fmt.Errorf("generating share code: %w", err)
	}

	listener, err := bindTransferListener(cfg.Network.TransferPortStart, cfg.Network.TransferPortEnd)
	if err != nil {
		return fmt.Errorf("binding transfer listener: %w", err)
	}
	defer listener.Close()
	transferPort := listener.Addr().(*net.TCPAddr).Port

	tlsServerCfg, err := tlsadapter.NewServerConfig()
	if err != nil {
		return fmt.Errorf("building TLS server config: %w", err)
	}
	tlsListener := tls.NewListener(listener, tlsServerCfg)

	var totalSize uint64
	for _, f := range files {
		totalSize += f.Meta.Size
	}

	broadcaster, err := discovery.NewHybridBroadcaster(cfg.Network.DiscoveryPort, log)
	if err != nil {
		return fmt.Errorf("starting discovery broadcaster: %w", err)
	}
	defer broadcaster.Close()

	broadcastCtx, stopBroadcast := context.WithCancel(ctx)
	go broadcaster.Run(broadcastCtx, code, func() discovery.Packet {
		return discovery.NewPacket(code, cfg.General.DeviceName, id.DeviceID, uint16(transferPort), len(files), totalSize, 0)
	})

	fmt.Printf("Share code: %s\n", code)
	fmt.Printf("Waiting for a peer on port %d...\n", transferPort)
	log.Info("share session waiting", "code", code, "transfer_port", transferPort, "files", len(files), "total_size", totalSize)

	sessionTimeout := config.Duration(cfg.Transfer.SessionTimeout, 5*time.Minute)
	acceptCtx, cancelAccept := context.WithTimeout(ctx, sessionTimeout)
	defer cancelAccept()

	conn, err := acceptOne(acceptCtx, tlsListener)
	stopBroadcast()
	if err != nil {
		return fmt.Errorf("waiting for peer: %w", err)
	}

	sender := transfer.NewSender(log)
	progressEvents := make(chan transfer.ProgressEvent, 16)
	go drainProgress(progressEvents, log)

	err = sender.Run(ctx, conn, transfer.SenderOptions{
		DeviceName:        cfg.General.DeviceName,
		Code:              code,
		Files:             files,
		ChunkSize:         int(cfg.ChunkSizeBytes()),
		KeepAliveInterval: config.Duration(cfg.Transfer.KeepAliveInterval, 5*time.Second),
		SessionTimeout:    sessionTimeout,
		FrameIOTimeout:    config.Duration(cfg.Transfer.FrameIOTimeout, 30*time.Second),
		PerChunkAck:       cfg.Transfer.PerChunkAck,
		History:           historyStore,
		Progress:          transfer.NewProgressReporter(totalSize, progressEvents),
	})
	close(progressEvents)
	if err != nil {
		return fmt.Errorf("transfer session: %w", err)
	}

	fmt.Println("Transfer completed.")
	succeeded = true
	return nil
}

// bindTransferListener binds the first free TCP port in [start, end].
func bindTransferListener(start, end int) (*net.TCPListener, error) {
	if start <= 0 || end < start {
		start, end = 53100, 53200
	}
	var lastErr error
	for port := start; port <= end; port++ {
		l, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in [%d, %d]: %w", start, end, lastErr)
}

// acceptOne waits for the sender's exactly-one incoming connection
// (spec §4.4 Waiting state), honoring ctx cancellation.
func acceptOne(ctx context.Context, l net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

func drainProgress(events <-chan transfer.ProgressEvent, log *slog.Logger) {
	for ev := range events {
		log.Debug("progress", "file", ev.FileName, "bytes_sent", ev.BytesTransferred, "total_bytes", ev.TotalBytes)
	}
}
