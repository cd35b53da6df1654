// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fileio

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxArchiveListingNames bounds how many entry names GeneratePreview's
// archive_listing preview reports; ArchiveCount still carries the true
// total so the cap doesn't masquerade as the full listing.
const maxArchiveListingNames = 20

// archiveListing peeks inside a .zip, .tar or .tar.gz file without
// extracting it, returning up to maxArchiveListingNames entry names and
// the true total entry count. It returns ok=false for any other or
// unreadable archive.
func archiveListing(absPath string) (names []string, total int, ok bool) {
	lower := strings.ToLower(absPath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return zipListing(absPath)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return tarGzListing(absPath)
	case strings.HasSuffix(lower, ".tar"):
		return tarListing(absPath)
	default:
		return nil, 0, false
	}
}

func zipListing(absPath string) ([]string, int, bool) {
	r, err := zip.OpenReader(absPath)
	if err != nil {
		return nil, 0, false
	}
	defer r.Close()

	names := make([]string, 0, maxArchiveListingNames)
	for _, f := range r.File {
		if len(names) < maxArchiveListingNames {
			names = append(names, f.Name)
		}
	}
	return names, len(r.File), true
}

func tarGzListing(absPath string) ([]string, int, bool) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, 0, false
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, 0, false
	}
	defer gz.Close()

	return readTarEntries(gz)
}

func tarListing(absPath string) ([]string, int, bool) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, 0, false
	}
	defer f.Close()
	return readTarEntries(f)
}

func readTarEntries(r io.Reader) ([]string, int, bool) {
	tr := tar.NewReader(r)
	names := make([]string, 0, maxArchiveListingNames)
	total := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if total == 0 {
				return nil, 0, false
			}
			break
		}
		total++
		if len(names) < maxArchiveListingNames {
			names = append(names, hdr.Name)
		}
	}
	return names, total, true
}
