// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/localdrop/localdrop/internal/fileio"
	"github.com/localdrop/localdrop/internal/history"
	"github.com/localdrop/localdrop/internal/wire"
)

// State is the shared sender/receiver session state machine, matching
// the named states of spec §4.4/§4.5. Preparing/Searching are the
// respective session's discovery-adjacent first state.
type State string

const (
	StatePreparing    State = "preparing"
	StateWaiting      State = "waiting"
	StateSearching    State = "searching"
	StateConnected    State = "connected"
	StateTransferring State = "transferring"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// FileSource is one local file offered by a sender.
type FileSource struct {
	AbsPath string
	Meta    wire.FileMetadata
}

// SenderOptions configures a Sender.Run invocation.
type SenderOptions struct {
	DeviceName        string
	Code              string
	Files             []FileSource
	ChunkSize         int
	KeepAliveInterval time.Duration
	SessionTimeout    time.Duration
	FrameIOTimeout    time.Duration
	PerChunkAck       bool
	History           *history.Store
	PeerNameHint      string
	// Progress, if set, receives periodic ProgressEvent snapshots while
	// chunks stream; it is optional and never blocks the transfer.
	Progress *ProgressReporter
}

// Sender drives the sending side of a file-transfer session over an
// already-accepted TLS connection.
type Sender struct {
	log   *slog.Logger
	state State
}

// NewSender returns a Sender bound to log.
func NewSender(log *slog.Logger) *Sender {
	return &Sender{log: log.With("component", "transfer_sender"), state: StatePreparing}
}

// State returns the sender's current state.
func (s *Sender) State() State { return s.state }

// Run executes the full sender state machine over conn: handshake,
// manifest exchange, resume reconciliation and chunked transfer. It
// blocks until completion, cancellation (via ctx) or a fatal error.
func (s *Sender) Run(ctx context.Context, conn net.Conn, opts SenderOptions) error {
	defer conn.Close()
	s.state = StateWaiting

	frameTimeout := opts.FrameIOTimeout
	if frameTimeout == 0 {
		frameTimeout = 30 * time.Second
	}

	peer, err := ServerHandshake(conn, opts.DeviceName, opts.Code, nil)
	if err != nil {
		s.state = StateFailed
		return s.recordFailure(opts, err)
	}
	s.state = StateConnected
	s.log.Info("sender connected", "peer", peer.DeviceName)

	totalSize := uint64(0)
	files := make([]wire.FileMetadata, len(opts.Files))
	for i, f := range opts.Files {
		files[i] = f.Meta
		totalSize += f.Meta.Size
	}

	if err := wire.WriteFrameTimeout(conn, wire.MsgFileList, mustJSON(wire.FileList{Files: files, TotalSize: totalSize}), frameTimeout); err != nil {
		s.state = StateFailed
		return s.recordFailure(opts, NewSessionError(KindIO, "writing FileList: %v", err))
	}

	ackFrame, err := wire.ReadFrame(conn, frameTimeout)
	if err != nil {
		s.state = StateFailed
		return s.recordFailure(opts, NewSessionError(KindProtocolError, "peer closed awaiting FileListAck: %v", err))
	}
	var ack wire.FileListAck
	if err := wire.DecodeJSON(ackFrame, &ack); err != nil {
		s.state = StateFailed
		return s.recordFailure(opts, NewSessionError(KindSerialization, "decoding FileListAck: %v", err))
	}
	if !ack.Accepted {
		s.state = StateCancelled
		wire.WriteFrameTimeout(conn, wire.MsgTransferCancel, mustJSON(wire.TransferCancel{Reason: "declined"}), frameTimeout)
		return s.recordOutcome(opts, history.StateCancelled, files, 0, nil)
	}

	// Optional resume reconciliation: the receiver may follow FileListAck
	// with a ResumeRequest before we start streaming.
	startChunks := make(map[int]uint64, len(files))
	skipFiles := make(map[int]bool, len(files))

	if resumeFrame, ok := peekResumeRequest(conn, frameTimeout); ok {
		var resumeReq wire.ResumeRequest
		if err := wire.DecodeJSON(resumeFrame, &resumeReq); err != nil {
			s.state = StateFailed
			return s.recordFailure(opts, NewSessionError(KindSerialization, "decoding ResumeRequest: %v", err))
		}
		resumeAck := s.reconcileResume(opts.Files, resumeReq, startChunks, skipFiles)
		if err := wire.WriteFrameTimeout(conn, wire.MsgResumeAck, mustJSON(resumeAck), frameTimeout); err != nil {
			s.state = StateFailed
			return s.recordFailure(opts, NewSessionError(KindIO, "writing ResumeAck: %v", err))
		}
	}

	// Keep-alive ping loop runs for the remainder of the session.
	sessionTimeout := opts.SessionTimeout
	if sessionTimeout == 0 {
		sessionTimeout = 5 * time.Minute
	}
	keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
	defer cancelKeepAlive()
	keepAliveErr := make(chan error, 1)
	go func() {
		keepAliveErr <- runKeepAlive(keepAliveCtx, conn, opts.KeepAliveInterval, frameTimeout)
	}()

	s.state = StateTransferring
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = 1024 * 1024
	}
	chunker := fileio.NewChunker(chunkSize)

	if opts.Progress != nil {
		opts.Progress.Start()
		defer opts.Progress.Stop()
	}

	var bytesSent uint64
	results := make([]history.FileResult, len(opts.Files))

	for i, f := range opts.Files {
		select {
		case <-ctx.Done():
			s.state = StateCancelled
			wire.WriteFrameTimeout(conn, wire.MsgTransferCancel, mustJSON(wire.TransferCancel{Reason: "cancelled"}), frameTimeout)
			return s.recordOutcome(opts, history.StateCancelled, files, bytesSent, nil)
		default:
		}

		if skipFiles[i] {
			results[i] = history.FileResult{Name: f.Meta.RelativePath, Size: f.Meta.Size, Success: true}
			bytesSent += f.Meta.Size
			continue
		}
		if f.Meta.IsDirectory {
			results[i] = history.FileResult{Name: f.Meta.RelativePath, Size: 0, Success: true}
			continue
		}

		if opts.Progress != nil {
			opts.Progress.SetFile(i, f.Meta.RelativePath)
		}

		totalChunks := (f.Meta.Size + uint64(chunkSize) - 1) / uint64(chunkSize)
		startIdx := startChunks[i]
		if err := wire.WriteFrameTimeout(conn, wire.MsgChunkStart, mustJSON(wire.ChunkStart{FileIndex: i, ChunkIndex: startIdx, TotalChunks: totalChunks}), frameTimeout); err != nil {
			s.state = StateFailed
			return s.recordFailure(opts, NewSessionError(KindIO, "writing ChunkStart for %s: %v", f.Meta.RelativePath, err))
		}

		sendErr := chunker.ReadChunks(f.AbsPath, uint32(i), f.Meta.Size, startIdx, func(c fileio.Chunk) error {
			select {
			case <-ctx.Done():
				return NewSessionError(KindCancelled, "transfer cancelled")
			default:
			}
			payload := c.ToWire()
			if err := wire.WriteFrameTimeout(conn, wire.MsgChunkData, payload.Encode(), frameTimeout); err != nil {
				return NewSessionError(KindIO, "writing chunk %d of %s: %v", c.ChunkIndex, f.Meta.RelativePath, err)
			}
			bytesSent += uint64(len(c.Data))
			if opts.Progress != nil {
				opts.Progress.AddBytes(uint64(len(c.Data)))
			}

			if opts.PerChunkAck {
				ackFrame, err := wire.ReadFrame(conn, frameTimeout)
				if err != nil {
					return NewSessionError(KindIO, "reading ChunkAck for %s: %v", f.Meta.RelativePath, err)
				}
				var chunkAck wire.ChunkAck
				if err := wire.DecodeJSON(ackFrame, &chunkAck); err == nil && !chunkAck.Success {
					return NewSessionError(KindChecksumMismatch, "%s chunk %d", f.Meta.RelativePath, c.ChunkIndex)
				}
			}
			return nil
		})

		if sendErr != nil {
			if se, ok := sendErr.(*SessionError); ok && se.Kind == KindCancelled {
				s.state = StateCancelled
				wire.WriteFrameTimeout(conn, wire.MsgTransferCancel, mustJSON(wire.TransferCancel{Reason: "cancelled"}), frameTimeout)
				return s.recordOutcome(opts, history.StateCancelled, files, bytesSent, nil)
			}
			s.state = StateFailed
			return s.recordFailure(opts, Classify(sendErr))
		}

		results[i] = history.FileResult{Name: f.Meta.RelativePath, Size: f.Meta.Size, Success: true}
	}

	if err := wire.WriteFrameTimeout(conn, wire.MsgTransferComplete, mustJSON(wire.TransferComplete{}), frameTimeout); err != nil {
		s.state = StateFailed
		return s.recordFailure(opts, NewSessionError(KindIO, "writing TransferComplete: %v", err))
	}
	s.state = StateCompleted

	cancelKeepAlive()
	return s.recordOutcome(opts, history.StateCompleted, files, bytesSent, results)
}

// reconcileResume applies §4.4's resume reconciliation: files whose
// recomputed SHA-256 matches the receiver's record are skipped
// entirely; mismatched files retransfer in full; matching files with
// partially-completed chunks resume from the receiver's high-water
// mark.
func (s *Sender) reconcileResume(files []FileSource, req wire.ResumeRequest, startChunks map[int]uint64, skipFiles map[int]bool) wire.ResumeAck {
	ack := wire.ResumeAck{Accepted: true, RetransferChunks: map[int][]uint64{}}

	for i, f := range files {
		claimedHash, hasClaim := req.CompletedFileHashes[i]
		if !hasClaim {
			continue
		}
		actual, err := sha256File(f.AbsPath)
		if err != nil {
			continue
		}
		if actual == claimedHash {
			skipFiles[i] = true
			continue
		}
		ack.RetransferFiles = append(ack.RetransferFiles, i)
	}

	retransfer := make(map[int]bool, len(ack.RetransferFiles))
	for _, i := range ack.RetransferFiles {
		retransfer[i] = true
	}
	for i, chunks := range req.CompletedChunks {
		if skipFiles[i] || retransfer[i] {
			continue
		}
		highest := uint64(0)
		for _, c := range chunks {
			if c+1 > highest {
				highest = c + 1
			}
		}
		startChunks[i] = highest
	}

	return ack
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, 1<<20)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (s *Sender) recordFailure(opts SenderOptions, err error) error {
	se := Classify(err)
	if opts.History != nil {
		opts.History.Append(history.Entry{
			ID:        uuid.New(),
			Timestamp: time.Now().UTC(),
			Direction: history.DirectionSent,
			PeerName:  opts.PeerNameHint,
			Code:      opts.Code,
			State:     history.StateFailed,
			Error:     se.Error(),
		})
	}
	return se
}

func (s *Sender) recordOutcome(opts SenderOptions, state history.State, files []wire.FileMetadata, bytesSent uint64, results []history.FileResult) error {
	if opts.History == nil {
		return nil
	}
	total := uint64(0)
	for _, f := range files {
		total += f.Size
	}
	return opts.History.Append(history.Entry{
		ID:               uuid.New(),
		Timestamp:        time.Now().UTC(),
		Direction:        history.DirectionSent,
		PeerName:         opts.PeerNameHint,
		Code:             opts.Code,
		Files:            results,
		TotalBytes:       total,
		BytesTransferred: bytesSent,
		State:            state,
	})
}

func mustJSON(v interface{}) []byte {
	data, err := jsonMarshal(v)
	if err != nil {
		panic(fmt.Sprintf("transfer: marshaling well-formed payload: %v", err))
	}
	return data
}
