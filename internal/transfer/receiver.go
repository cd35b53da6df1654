// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/localdrop/localdrop/internal/fileio"
	"github.com/localdrop/localdrop/internal/history"
	"github.com/localdrop/localdrop/internal/resume"
	"github.com/localdrop/localdrop/internal/wire"
)

// ReceiverOptions configures a Receiver.Run invocation.
type ReceiverOptions struct {
	DeviceName        string
	Code              string
	OutputDir         string
	AutoAccept        bool
	ChunkAckEvery     int
	KeepAliveInterval time.Duration
	SessionTimeout    time.Duration
	FrameIOTimeout    time.Duration
	History           *history.Store
	Resume            *resume.Manager
	PeerNameHint      string
	// Decide is consulted once the manifest has arrived, when AutoAccept
	// is false. A nil Decide with AutoAccept false declines the transfer.
	Decide func(wire.FileList) bool
}

// Receiver drives the receiving side of a file-transfer session over an
// already TLS-dialed connection (discovery and TLS client setup are the
// caller's responsibility; Receiver only implements §4.5's state
// machine from the point a connection exists).
type Receiver struct {
	log   *slog.Logger
	state State
}

// NewReceiver returns a Receiver bound to log.
func NewReceiver(log *slog.Logger) *Receiver {
	return &Receiver{log: log.With("component", "transfer_receiver"), state: StateSearching}
}

// State returns the receiver's current state.
func (r *Receiver) State() State { return r.state }

// Run executes the full receiver state machine over conn: handshake,
// manifest receipt, optional resume, and chunked write with per-chunk
// xxHash64 verification. Each finished file's SHA-256 is recorded in the
// resume state; it is not compared with a hash from the sender.
func (r *Receiver) Run(ctx context.Context, conn net.Conn, opts ReceiverOptions) error {
	defer conn.Close()

	frameTimeout := opts.FrameIOTimeout
	if frameTimeout == 0 {
		frameTimeout = 30 * time.Second
	}

	peer, err := ClientHandshake(conn, opts.DeviceName, opts.Code)
	if err != nil {
		r.state = StateFailed
		return r.recordFailure(opts, err)
	}
	r.state = StateConnected
	r.log.Info("receiver connected", "peer", peer.DeviceName)

	listFrame, err := wire.ReadFrame(conn, frameTimeout)
	if err != nil {
		r.state = StateFailed
		return r.recordFailure(opts, NewSessionError(KindProtocolError, "peer closed awaiting FileList: %v", err))
	}
	var fileList wire.FileList
	if err := wire.DecodeJSON(listFrame, &fileList); err != nil {
		r.state = StateFailed
		return r.recordFailure(opts, NewSessionError(KindSerialization, "decoding FileList: %v", err))
	}

	accepted := opts.AutoAccept
	if !accepted && opts.Decide != nil {
		accepted = opts.Decide(fileList)
	}
	if !accepted {
		wire.WriteFrameTimeout(conn, wire.MsgFileListAck, mustJSON(wire.FileListAck{Accepted: false}), frameTimeout)
		r.state = StateCancelled
		return r.recordOutcome(opts, history.StateCancelled, fileList.Files, nil, 0)
	}
	if err := wire.WriteFrameTimeout(conn, wire.MsgFileListAck, mustJSON(wire.FileListAck{Accepted: true}), frameTimeout); err != nil {
		r.state = StateFailed
		return r.recordFailure(opts, NewSessionError(KindIO, "writing FileListAck: %v", err))
	}

	transferID := uuid.New()
	var priorState *resume.State
	if opts.Resume != nil {
		priorState, _ = opts.Resume.FindByCode(opts.Code)
	}

	startChunks := make(map[int]uint64, len(fileList.Files))
	skipFiles := make(map[int]bool, len(fileList.Files))

	if priorState != nil {
		transferID = priorState.TransferID
		req := wire.ResumeRequest{
			TransferID:          transferID,
			CompletedChunks:     priorState.CompletedChunks,
			CompletedFileHashes: priorState.CompletedFileHashes,
		}
		if err := wire.WriteFrameTimeout(conn, wire.MsgResumeRequest, mustJSON(req), frameTimeout); err != nil {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindIO, "writing ResumeRequest: %v", err))
		}
		ackFrame, err := wire.ReadFrame(conn, frameTimeout)
		if err != nil {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindProtocolError, "peer closed awaiting ResumeAck: %v", err))
		}
		var ack wire.ResumeAck
		if err := wire.DecodeJSON(ackFrame, &ack); err != nil {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindSerialization, "decoding ResumeAck: %v", err))
		}
		retransferSet := make(map[int]bool, len(ack.RetransferFiles))
		for _, i := range ack.RetransferFiles {
			retransferSet[i] = true
		}
		for i := range priorState.CompletedFileHashes {
			if !retransferSet[i] {
				skipFiles[i] = true
			}
		}
		for i, chunks := range priorState.CompletedChunks {
			if skipFiles[i] || retransferSet[i] {
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
	}

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

	r.state = StateTransferring
	var bytesReceived uint64
	results := make([]history.FileResult, len(fileList.Files))
	completedChunks := make(map[int][]uint64, len(fileList.Files))
	completedHashes := make(map[int]string, len(fileList.Files))
	if priorState != nil {
		// Only fully-matched (skipFiles) entries survive into this run's
		// record: retransferring files are rewritten from chunk 0, so
		// their stale chunk list from the interrupted run must not be
		// carried forward.
		for i, chunks := range priorState.CompletedChunks {
			if skipFiles[i] {
				completedChunks[i] = chunks
			}
		}
	}

	for i, meta := range fileList.Files {
		select {
		case <-ctx.Done():
			r.state = StateCancelled
			wire.WriteFrameTimeout(conn, wire.MsgTransferCancel, mustJSON(wire.TransferCancel{Reason: "cancelled"}), frameTimeout)
			return r.recordOutcome(opts, history.StateCancelled, fileList.Files, results, bytesReceived)
		default:
		}

		if skipFiles[i] {
			if priorState != nil {
				if hash, ok := priorState.CompletedFileHashes[i]; ok {
					completedHashes[i] = hash
				}
			}
			results[i] = history.FileResult{Name: meta.RelativePath, Size: meta.Size, Success: true}
			bytesReceived += meta.Size
			continue
		}
		if meta.IsDirectory {
			results[i] = history.FileResult{Name: meta.RelativePath, Size: 0, Success: true}
			continue
		}

		outPath, err := fileio.SanitizeRelativePath(opts.OutputDir, meta.RelativePath)
		if err != nil {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindProtocolError, "%v", err))
		}

		startFrame, err := wire.ReadFrame(conn, frameTimeout)
		if err != nil {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindProtocolError, "peer closed awaiting ChunkStart for %s: %v", meta.RelativePath, err))
		}
		if startFrame.Header.MessageType != wire.MsgChunkStart {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindProtocolError, "expected ChunkStart, got %02x", startFrame.Header.MessageType))
		}
		var chunkStart wire.ChunkStart
		if err := wire.DecodeJSON(startFrame, &chunkStart); err != nil {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindSerialization, "decoding ChunkStart: %v", err))
		}

		writer, err := fileio.NewWriter(outPath, startChunks[i] > 0)
		if err != nil {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindIO, "opening writer for %s: %v", meta.RelativePath, err))
		}

		var receivedThisFile []uint64
		var writeErr error
		received := uint64(0)
		expected := meta.Size

		for received < expected {
			select {
			case <-ctx.Done():
				writer.Abort()
				r.state = StateCancelled
				wire.WriteFrameTimeout(conn, wire.MsgTransferCancel, mustJSON(wire.TransferCancel{Reason: "cancelled"}), frameTimeout)
				return r.recordOutcome(opts, history.StateCancelled, fileList.Files, results, bytesReceived)
			default:
			}

			dataFrame, err := wire.ReadFrame(conn, frameTimeout)
			if err != nil {
				writeErr = NewSessionError(KindProtocolError, "peer closed mid-chunk for %s: %v", meta.RelativePath, err)
				break
			}
			if dataFrame.Header.MessageType != wire.MsgChunkData {
				writeErr = NewSessionError(KindProtocolError, "expected ChunkData, got %02x", dataFrame.Header.MessageType)
				break
			}
			chunkPayload, err := wire.DecodeChunkDataPayload(dataFrame.Payload)
			if err != nil {
				writeErr = NewSessionError(KindSerialization, "decoding ChunkData: %v", err)
				break
			}

			if werr := writer.WriteChunk(chunkPayload); werr != nil {
				wire.WriteFrameTimeout(conn, wire.MsgChunkAck, mustJSON(wire.ChunkAck{FileIndex: i, ChunkIndex: chunkPayload.ChunkIndex, Success: false}), frameTimeout)
				writeErr = Classify(werr)
				break
			}
			received += uint64(len(chunkPayload.Data))
			receivedThisFile = append(receivedThisFile, chunkPayload.ChunkIndex)
			bytesReceived += uint64(len(chunkPayload.Data))

			if opts.ChunkAckEvery > 0 && len(receivedThisFile)%opts.ChunkAckEvery == 0 {
				wire.WriteFrameTimeout(conn, wire.MsgChunkAck, mustJSON(wire.ChunkAck{FileIndex: i, ChunkIndex: chunkPayload.ChunkIndex, Success: true}), frameTimeout)
			}
			if opts.Resume != nil {
				completedChunks[i] = append(completedChunks[i], chunkPayload.ChunkIndex)
				r.saveResumeProgress(opts, transferID, fileList, completedChunks, completedHashes)
			}
		}

		if writeErr != nil {
			writer.Abort()
			r.state = StateFailed
			return r.recordFailure(opts, writeErr)
		}

		digest, err := writer.Finalize()
		if err != nil {
			r.state = StateFailed
			return r.recordFailure(opts, NewSessionError(KindIO, "finalizing %s: %v", meta.RelativePath, err))
		}
		completedHashes[i] = fmt.Sprintf("%x", digest)
		results[i] = history.FileResult{Name: meta.RelativePath, Size: meta.Size, Success: true}
	}

	completeFrame, err := wire.ReadFrame(conn, frameTimeout)
	if err != nil || completeFrame.Header.MessageType != wire.MsgTransferComplete {
		r.state = StateFailed
		return r.recordFailure(opts, NewSessionError(KindProtocolError, "expected TransferComplete: %v", err))
	}
	r.state = StateCompleted

	cancelKeepAlive()
	if opts.Resume != nil {
		opts.Resume.Delete(transferID)
	}
	return r.recordOutcome(opts, history.StateCompleted, fileList.Files, results, bytesReceived)
}

func (r *Receiver) saveResumeProgress(opts ReceiverOptions, transferID uuid.UUID, fileList wire.FileList, chunks map[int][]uint64, hashes map[int]string) {
	names := make([]string, len(fileList.Files))
	for i, f := range fileList.Files {
		names[i] = f.RelativePath
	}
	state := &resume.State{
		TransferID:          transferID,
		Code:                opts.Code,
		Files:               names,
		PeerName:            opts.PeerNameHint,
		OutputDir:           opts.OutputDir,
		CompletedChunks:     chunks,
		CompletedFileHashes: hashes,
	}
	opts.Resume.Save(state)
}

func (r *Receiver) recordFailure(opts ReceiverOptions, err error) error {
	se := Classify(err)
	if opts.History != nil {
		opts.History.Append(history.Entry{
			ID:        uuid.New(),
			Timestamp: time.Now().UTC(),
			Direction: history.DirectionReceived,
			PeerName:  opts.PeerNameHint,
			Code:      opts.Code,
			State:     history.StateFailed,
			Error:     se.Error(),
			OutputDir: opts.OutputDir,
		})
	}
	return se
}

func (r *Receiver) recordOutcome(opts ReceiverOptions, state history.State, files []wire.FileMetadata, results []history.FileResult, bytesReceived uint64) error {
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
		Direction:        history.DirectionReceived,
		PeerName:         opts.PeerNameHint,
		Code:             opts.Code,
		Files:            results,
		TotalBytes:       total,
		BytesTransferred: bytesReceived,
		State:            state,
		OutputDir:        opts.OutputDir,
	})
}
