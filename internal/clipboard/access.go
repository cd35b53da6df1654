// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package clipboard

import (
	"context"
	"time"

	"github.com/atotto/clipboard"

	"github.com/localdrop/localdrop/internal/transfer"
)

// Access is a platform-agnostic clipboard accessor. Text is backed by
// github.com/atotto/clipboard; image clipboard content has no
// corresponding Go library in this project's dependency set, so
// ReadContent never returns an Image and WriteContent rejects one with
// KindClipboardError.
type Access struct{}

// NewAccess returns a clipboard Access.
func NewAccess() *Access { return &Access{} }

// ReadContent reads the current clipboard text. An empty clipboard
// yields a zero Content whose Empty() is true; the caller maps that to
// KindClipboardEmpty where the spec requires it (one-shot share).
func (a *Access) ReadContent() (Content, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return Content{}, transfer.NewSessionError(transfer.KindClipboardError, "reading clipboard: %v", err)
	}
	return TextContent(text), nil
}

// WriteContent writes c to the clipboard.
func (a *Access) WriteContent(c Content) error {
	if c.IsImage {
		return transfer.NewSessionError(transfer.KindClipboardError, "image clipboard content is not supported on this platform")
	}
	if err := clipboard.WriteAll(c.Text); err != nil {
		return transfer.NewSessionError(transfer.KindClipboardError, "writing clipboard: %v", err)
	}
	return nil
}

// WriteAndWait writes c, then polls the clipboard until it reads back
// c's content or timeout elapses. github.com/atotto/clipboard shells
// out to the platform clipboard tool synchronously, so unlike the
// Linux-ownership-holding dance a native clipboard library needs, a
// readback poll is sufficient confirmation here.
func (a *Access) WriteAndWait(ctx context.Context, c Content, timeout time.Duration) error {
	if err := a.WriteContent(c); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		got, err := a.ReadContent()
		if err == nil && got.ContentHash() == c.ContentHash() {
			return nil
		}
		select {
		case <-ctx.Done():
			return transfer.NewSessionError(transfer.KindClipboardError, "write_and_wait cancelled: %v", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	return transfer.NewSessionError(transfer.KindClipboardError, "clipboard manager did not claim content within %s", timeout)
}

// ContentHash returns the xxHash64 of the current clipboard content, or
// 0 if the clipboard is empty or unreadable — matching the teacher's
// convention (see content_hash in the reference implementation) of
// treating read failure as "no content" for change-detection purposes.
func (a *Access) ContentHash() uint64 {
	c, err := a.ReadContent()
	if err != nil || c.Empty() {
		return 0
	}
	return c.ContentHash()
}
