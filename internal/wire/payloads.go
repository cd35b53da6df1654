// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrTruncatedChunkPayload is returned when a ChunkData payload is
// shorter than the fixed 20-byte header.
var ErrTruncatedChunkPayload = errors.New("wire: chunk data payload truncated")

// Hello is sent by the connecting peer immediately after TLS setup; the
// accepting peer answers with HelloAck and sends no Hello of its own.
type Hello struct {
	DeviceName      string `json:"device_name"`
	ProtocolVersion string `json:"protocol_version"`
}

// HelloAck acknowledges a Hello.
type HelloAck struct {
	DeviceName string `json:"device_name"`
}

// CodeVerify carries the HMAC proving the client knows the share code.
type CodeVerify struct {
	CodeHMAC []byte `json:"code_hmac"`
}

// CodeVerifyAck reports the result of code verification.
type CodeVerifyAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeviceAuth is the trusted-device alternative to CodeVerify: the client
// signs (device_id || transfer_id || unix_timestamp) instead of proving
// knowledge of a share code.
type DeviceAuth struct {
	DeviceID    uuid.UUID `json:"device_id"`
	TransferID  uuid.UUID `json:"transfer_id"`
	Timestamp   int64     `json:"timestamp"`
	Signature   []byte    `json:"signature"`
}

// FilePreview is the small, optional preview attached to a file's
// metadata. Kind selects which of the other fields are populated.
type FilePreview struct {
	Kind            string `json:"kind"` // thumbnail | text | archive_listing | icon | none
	ThumbnailPNG    []byte `json:"thumbnail_png,omitempty"`
	ThumbnailWidth  int    `json:"thumbnail_width,omitempty"`
	ThumbnailHeight int    `json:"thumbnail_height,omitempty"`
	TextSnippet     string `json:"text_snippet,omitempty"`
	ArchiveNames    []string `json:"archive_names,omitempty"`
	ArchiveCount    int      `json:"archive_count,omitempty"`
}

// FileMetadata describes one file or directory entry in a manifest.
type FileMetadata struct {
	RelativePath   string       `json:"relative_path"`
	Size           uint64       `json:"size"`
	MimeType       string       `json:"mime_type,omitempty"`
	Created        *time.Time   `json:"created,omitempty"`
	Modified       *time.Time   `json:"modified,omitempty"`
	UnixPermissions *uint32     `json:"unix_permissions,omitempty"`
	IsSymlink      bool         `json:"is_symlink"`
	SymlinkTarget  string       `json:"symlink_target,omitempty"`
	IsDirectory    bool         `json:"is_directory"`
	Preview        *FilePreview `json:"preview,omitempty"`
}

// FileList is the sender's manifest.
type FileList struct {
	Files     []FileMetadata `json:"files"`
	TotalSize uint64         `json:"total_size"`
}

// FileListAck is the receiver's accept/decline response to a FileList.
type FileListAck struct {
	Accepted      bool  `json:"accepted"`
	AcceptedFiles []int `json:"accepted_files,omitempty"`
}

// PreviewRequest asks the sender for a richer preview of one file.
type PreviewRequest struct {
	FileIndex int `json:"file_index"`
}

// PreviewData answers a PreviewRequest.
type PreviewData struct {
	FileIndex int         `json:"file_index"`
	Preview   FilePreview `json:"preview"`
}

// ChunkStart announces the beginning of a file's chunk stream.
type ChunkStart struct {
	FileIndex   int    `json:"file_index"`
	ChunkIndex  uint64 `json:"chunk_index"`
	TotalChunks uint64 `json:"total_chunks"`
}

// ChunkDataPayload is the binary (non-JSON) payload carried by a
// ChunkData frame: file_index(u32 BE) || chunk_index(u64 BE) ||
// checksum(u64 BE, xxHash64) || data.
type ChunkDataPayload struct {
	FileIndex  uint32
	ChunkIndex uint64
	Checksum   uint64
	Data       []byte
}

// chunkDataHeaderSize is the fixed portion of a ChunkDataPayload:
// 4 (file_index) + 8 (chunk_index) + 8 (checksum).
const chunkDataHeaderSize = 20

// Encode serializes p into the compact binary ChunkData wire format.
func (p ChunkDataPayload) Encode() []byte {
	buf := make([]byte, chunkDataHeaderSize+len(p.Data))
	buf[0] = byte(p.FileIndex >> 24)
	buf[1] = byte(p.FileIndex >> 16)
	buf[2] = byte(p.FileIndex >> 8)
	buf[3] = byte(p.FileIndex)
	for i := 0; i < 8; i++ {
		buf[4+i] = byte(p.ChunkIndex >> uint(56-8*i))
	}
	for i := 0; i < 8; i++ {
		buf[12+i] = byte(p.Checksum >> uint(56-8*i))
	}
	copy(buf[chunkDataHeaderSize:], p.Data)
	return buf
}

// DecodeChunkDataPayload parses the compact binary ChunkData wire
// format produced by Encode.
func DecodeChunkDataPayload(buf []byte) (ChunkDataPayload, error) {
	if len(buf) < chunkDataHeaderSize {
		return ChunkDataPayload{}, ErrTruncatedChunkPayload
	}
	fileIndex := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	var chunkIndex, checksum uint64
	for i := 0; i < 8; i++ {
		chunkIndex = chunkIndex<<8 | uint64(buf[4+i])
	}
	for i := 0; i < 8; i++ {
		checksum = checksum<<8 | uint64(buf[12+i])
	}
	data := make([]byte, len(buf)-chunkDataHeaderSize)
	copy(data, buf[chunkDataHeaderSize:])
	return ChunkDataPayload{FileIndex: fileIndex, ChunkIndex: chunkIndex, Checksum: checksum, Data: data}, nil
}

// ChunkAck reports the receiver's verdict on a chunk. It is only sent
// when per-chunk acknowledgement is enabled, or on checksum failure.
type ChunkAck struct {
	FileIndex  int    `json:"file_index"`
	ChunkIndex uint64 `json:"chunk_index"`
	Success    bool   `json:"success"`
}

// TransferComplete marks the end of a successful transfer.
type TransferComplete struct{}

// TransferCancel is sent by whichever side initiates cancellation.
type TransferCancel struct {
	Reason string `json:"reason,omitempty"`
}

// ResumeRequest asks the sender to reconcile against already-completed
// chunks and file hashes from a previous, interrupted attempt.
type ResumeRequest struct {
	TransferID           uuid.UUID            `json:"transfer_id"`
	CompletedChunks      map[int][]uint64     `json:"completed_chunks"`
	CompletedFileHashes  map[int]string       `json:"completed_file_hashes"`
}

// ResumeAck answers a ResumeRequest.
type ResumeAck struct {
	Accepted          bool             `json:"accepted"`
	RetransferFiles   []int            `json:"retransfer_files,omitempty"`
	RetransferChunks  map[int][]uint64 `json:"retransfer_chunks,omitempty"`
	Reason            string           `json:"reason,omitempty"`
}

// ClipboardContentType distinguishes plain text from image clipboard
// payloads on the wire.
type ClipboardContentType byte

const (
	ClipboardContentText  ClipboardContentType = 0x01
	ClipboardContentImage ClipboardContentType = 0x10
)

// ClipboardMeta announces the clipboard payload that follows.
type ClipboardMeta struct {
	ContentType ClipboardContentType `json:"content_type"`
	Size        uint64               `json:"size"`
	Checksum    uint64               `json:"checksum"`
	Timestamp   int64                `json:"timestamp"`
	Width       uint32               `json:"width,omitempty"`
	Height      uint32               `json:"height,omitempty"`
}

// ClipboardData carries the raw clipboard bytes described by a
// preceding ClipboardMeta.
type ClipboardData struct {
	Data []byte `json:"data"`
}

// ClipboardAck reports whether a clipboard transfer was applied.
type ClipboardAck struct {
	Success bool `json:"success"`
}

// ClipboardChanged announces a local clipboard change during live sync,
// without yet sending the bytes.
type ClipboardChanged struct {
	ContentType ClipboardContentType `json:"content_type"`
	Size        uint64               `json:"size"`
	Checksum    uint64               `json:"checksum"`
	Timestamp   int64                `json:"timestamp"`
}

// ClipboardRequest asks the peer to follow up a ClipboardChanged with
// the actual ClipboardMeta/ClipboardData pair.
type ClipboardRequest struct{}

// Error is the terminal message type: either side may send it at any
// time to report a fatal condition before closing the connection.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}


