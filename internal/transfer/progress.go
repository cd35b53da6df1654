// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"sync"
	"sync/atomic"
	"time"
)

// progressTick is how often a ProgressReporter emits a snapshot while a
// transfer is running, matching the teacher's ProgressReporter render
// cadence.
const progressTick = 500 * time.Millisecond

// ProgressEvent is one snapshot of a running transfer's progress.
type ProgressEvent struct {
	FileIndex        int
	FileName         string
	BytesTransferred uint64
	TotalBytes       uint64
	Speed            float64 // bytes/sec, averaged since Start
	ETA              time.Duration
}

// ProgressReporter tracks a transfer's byte/file counters with atomics
// and periodically emits a ProgressEvent on sink, generalizing the
// teacher's terminal progress bar into a channel any caller (CLI, future
// UI, test) can observe instead of a hardcoded stderr render.
type ProgressReporter struct {
	sink       chan<- ProgressEvent
	totalBytes uint64

	bytesDone atomic.Uint64

	mu           sync.Mutex
	currentIndex int
	currentFile  string

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewProgressReporter returns a reporter for a transfer of totalBytes,
// emitting snapshots on sink. sink may be nil, in which case the
// reporter tracks counters but emits nothing — a caller with no
// progress UI can still pass one through to keep the call sites
// uniform.
func NewProgressReporter(totalBytes uint64, sink chan<- ProgressEvent) *ProgressReporter {
	return &ProgressReporter{sink: sink, totalBytes: totalBytes}
}

// Start begins the background emission loop.
func (p *ProgressReporter) Start() {
	p.startTime = time.Now()
	p.done = make(chan struct{})
	if p.sink == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(progressTick)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				p.emit()
			}
		}
	}()
}

// SetFile records which file is currently being transferred.
func (p *ProgressReporter) SetFile(index int, name string) {
	p.mu.Lock()
	p.currentIndex = index
	p.currentFile = name
	p.mu.Unlock()
}

// AddBytes records n more bytes transferred.
func (p *ProgressReporter) AddBytes(n uint64) {
	p.bytesDone.Add(n)
}

// Stop halts the emission loop after a final snapshot.
func (p *ProgressReporter) Stop() {
	if p.done == nil {
		return
	}
	p.emit()
	close(p.done)
	p.wg.Wait()
}

func (p *ProgressReporter) emit() {
	if p.sink == nil {
		return
	}
	p.mu.Lock()
	idx, name := p.currentIndex, p.currentFile
	p.mu.Unlock()

	done := p.bytesDone.Load()
	elapsed := time.Since(p.startTime).Seconds()

	var speed float64
	var eta time.Duration
	if elapsed > 0.1 {
		speed = float64(done) / elapsed
	}
	if speed > 0 && p.totalBytes > done {
		eta = time.Duration(float64(p.totalBytes-done)/speed) * time.Second
	}

	event := ProgressEvent{
		FileIndex:        idx,
		FileName:         name,
		BytesTransferred: done,
		TotalBytes:       p.totalBytes,
		Speed:            speed,
		ETA:              eta,
	}
	select {
	case p.sink <- event:
	default:
		// A slow or absent consumer never blocks the transfer; the next
		// tick's snapshot supersedes this one anyway.
	}
}
