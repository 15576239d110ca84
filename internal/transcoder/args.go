// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcoder runs ffmpeg to turn one source file into a VOD HLS
// rendition (playlist plus MPEG-TS segments) and classifies the outcome.
package transcoder

import (
	"path/filepath"
	"strconv"
)

const (
	// ManifestName is the playlist file written into the output directory.
	ManifestName = "index.m3u8"
	// SegmentPattern is the printf-style segment filename ffmpeg expands.
	SegmentPattern = "segment%03d.ts"
	// DefaultSegmentSeconds is the target HLS segment duration.
	DefaultSegmentSeconds = 10
)

// BuildArgs returns the ffmpeg argv (without the binary) for one rendition.
// The list is passed to exec directly; no shell is involved, so paths need
// no quoting.
func BuildArgs(input, outputDir string, segmentSeconds int) []string {
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}
	return []string{
		"-i", input,
		"-codec:v", "libx264",
		"-codec:a", "aac",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, SegmentPattern),
		"-start_number", "0",
		ManifestPath(outputDir),
	}
}

// ManifestPath is where the playlist for outputDir lives.
func ManifestPath(outputDir string) string {
	return filepath.Join(outputDir, ManifestName)
}
