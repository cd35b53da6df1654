// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fileio

import (
	"fmt"
	"io"
	"os"

	"github.com/localdrop/localdrop/internal/cryptoutil"
	"github.com/localdrop/localdrop/internal/wire"
)

// Chunker reads a file in fixed-size pieces, computing an xxHash64 per
// chunk and tracking whether cumulative bytes read reach the file's
// declared size (the sender's definition of "last chunk" — never sent
// on the wire, only used to decide when to stop reading).
type Chunker struct {
	chunkSize int
}

// NewChunker returns a Chunker reading chunkSize bytes at a time.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024
	}
	return &Chunker{chunkSize: chunkSize}
}

// Chunk is one in-memory chunk read from disk, ready to be encoded onto
// the wire as a ChunkDataPayload. IsLast is derived from cumulative
// bytes read versus the file's declared size; it is not itself part of
// the wire format.
type Chunk struct {
	FileIndex  uint32
	ChunkIndex uint64
	Data       []byte
	Checksum   uint64
	IsLast     bool
}

// ReadChunks reads path in order starting at startChunkIndex (for
// resumed transfers; pass 0 for a fresh transfer), invoking fn once per
// chunk. fileSize is the file's declared total size, used only to
// compute IsLast.
func (c *Chunker) ReadChunks(path string, fileIndex uint32, fileSize uint64, startChunkIndex uint64, fn func(Chunk) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for chunking: %w", path, err)
	}
	defer f.Close()

	offset := startChunkIndex * uint64(c.chunkSize)
	if offset > 0 {
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
			return fmt.Errorf("seeking to chunk %d in %s: %w", startChunkIndex, path, err)
		}
	}

	buf := make([]byte, c.chunkSize)
	chunkIndex := startChunkIndex
	bytesRead := offset

	for {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			bytesRead += uint64(n)

			checksum := cryptoutil.XXH64(data)
			chunk := Chunk{
				FileIndex:  fileIndex,
				ChunkIndex: chunkIndex,
				Data:       data,
				Checksum:   checksum,
				IsLast:     bytesRead >= fileSize,
			}
			if err := fn(chunk); err != nil {
				return err
			}
			chunkIndex++
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("reading chunk %d of %s: %w", chunkIndex, path, readErr)
		}
	}
}

// ToWire converts a Chunk into the binary ChunkData payload, without
// the in-memory-only IsLast bit.
func (c Chunk) ToWire() wire.ChunkDataPayload {
	return wire.ChunkDataPayload{
		FileIndex:  c.FileIndex,
		ChunkIndex: c.ChunkIndex,
		Checksum:   c.Checksum,
		Data:       c.Data,
	}
}
