// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fileio

import (
	"bufio"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/localdrop/localdrop/internal/wire"
)

// MetadataFromEntry builds the manifest-ready FileMetadata for an
// enumerated entry, sniffing its MIME type from content (not merely
// extension) when it is a regular file.
func MetadataFromEntry(entry Entry) (wire.FileMetadata, error) {
	meta := wire.FileMetadata{
		RelativePath:  entry.RelPath,
		IsSymlink:     entry.IsSymlink,
		SymlinkTarget: entry.SymlinkTarget,
		IsDirectory:   entry.Info != nil && entry.Info.IsDir(),
	}

	if entry.Info != nil {
		meta.Size = uint64(entry.Info.Size())
		modified := entry.Info.ModTime().UTC()
		meta.Modified = &modified
		if perm := uint32(entry.Info.Mode().Perm()); perm != 0 {
			meta.UnixPermissions = &perm
		}
	}

	if !meta.IsDirectory && !meta.IsSymlink {
		mtype, err := mimetype.DetectFile(entry.AbsPath)
		if err == nil {
			meta.MimeType = mtype.String()
		}
	}

	return meta, nil
}

// GeneratePreview builds a best-effort FilePreview for meta, bounded by
// maxImageSize and maxTextLength. It returns nil for directories and
// symlinks. An image no larger than maxImageSize becomes a thumbnail
// holding the file's own bytes (not re-encoded or scaled; width and
// height are not set); a text file becomes a snippet of at most
// maxTextLength bytes; anything else, including a larger image, gets an
// archive listing when it is a readable archive and an icon otherwise.
func GeneratePreview(absPath string, meta wire.FileMetadata, maxImageSize, maxTextLength int) (*wire.FilePreview, error) {
	if meta.IsDirectory || meta.IsSymlink {
		return nil, nil
	}

	switch {
	case isImageMime(meta.MimeType) && int(meta.Size) <= maxImageSize:
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("reading image preview for %s: %w", absPath, err)
		}
		return &wire.FilePreview{Kind: "thumbnail", ThumbnailPNG: data}, nil

	case isTextMime(meta.MimeType):
		snippet, err := readTextSnippet(absPath, maxTextLength)
		if err != nil {
			return nil, fmt.Errorf("reading text preview for %s: %w", absPath, err)
		}
		return &wire.FilePreview{Kind: "text", TextSnippet: snippet}, nil

	default:
		if names, total, ok := archiveListing(absPath); ok {
			return &wire.FilePreview{Kind: "archive_listing", ArchiveNames: names, ArchiveCount: total}, nil
		}
		return &wire.FilePreview{Kind: "icon"}, nil
	}
}

func isImageMime(mime string) bool {
	return len(mime) >= 6 && mime[:6] == "image/"
}

func isTextMime(mime string) bool {
	return len(mime) >= 5 && mime[:5] == "text/"
}

func readTextSnippet(path string, maxLen int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, maxLen)
	n, err := bufio.NewReader(f).Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return string(buf[:n]), nil
}
