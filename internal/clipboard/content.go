// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package clipboard implements LocalDrop's clipboard sessions: one-shot
// share/receive and bidirectional live sync, layered on the same
// handshake and keep-alive machinery as internal/transfer.
package clipboard

import (
	"time"

	"github.com/localdrop/localdrop/internal/cryptoutil"
	"github.com/localdrop/localdrop/internal/wire"
)

// Content is the clipboard sum type: exactly one of Text or Image is
// populated, matching spec's Text(string) | Image(png_bytes, width,
// height).
type Content struct {
	IsImage bool
	Text    string
	Image   []byte
	Width   uint32
	Height  uint32
}

// TextContent builds a text Content.
func TextContent(s string) Content {
	return Content{Text: s}
}

// ImageContent builds an image Content from raw PNG-encoded bytes.
func ImageContent(png []byte, width, height uint32) Content {
	return Content{IsImage: true, Image: png, Width: width, Height: height}
}

// Empty reports whether c carries neither text nor image bytes, the
// condition that maps to KindClipboardEmpty.
func (c Content) Empty() bool {
	return !c.IsImage && c.Text == "" || c.IsImage && len(c.Image) == 0
}

// bytes returns the raw payload bytes that cross the wire for c.
func (c Content) bytes() []byte {
	if c.IsImage {
		return c.Image
	}
	return []byte(c.Text)
}

// ContentType returns the wire content-type tag for c.
func (c Content) ContentType() wire.ClipboardContentType {
	if c.IsImage {
		return wire.ClipboardContentImage
	}
	return wire.ClipboardContentText
}

// ContentHash returns c's xxHash64, used for change detection and echo
// suppression during live sync.
func (c Content) ContentHash() uint64 {
	return cryptoutil.XXH64(c.bytes())
}

// Meta builds the ClipboardMeta/ClipboardChanged-shaped fields shared by
// both message types for c at the given timestamp.
func (c Content) Meta(ts time.Time) (contentType wire.ClipboardContentType, size uint64, checksum uint64, timestamp int64) {
	data := c.bytes()
	return c.ContentType(), uint64(len(data)), cryptoutil.XXH64(data), ts.Unix()
}

// fromWire reconstructs a Content from a ClipboardMeta header and the
// ClipboardData bytes that followed it.
func fromWire(meta wire.ClipboardMeta, data []byte) Content {
	if meta.ContentType == wire.ClipboardContentImage {
		return ImageContent(data, meta.Width, meta.Height)
	}
	return TextContent(string(data))
}
