// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		outDir  string
		seconds int
		want    []string
	}{
		{
			name:    "default segment length",
			input:   "/srv/uploads/file-1.mp4",
			outDir:  "/srv/uploads/courses/abc",
			seconds: 0,
			want: []string{
				"-i", "/srv/uploads/file-1.mp4",
				"-codec:v", "libx264",
				"-codec:a", "aac",
				"-hls_time", "10",
				"-hls_playlist_type", "vod",
				"-hls_segment_filename", "/srv/uploads/courses/abc/segment%03d.ts",
				"-start_number", "0",
				"/srv/uploads/courses/abc/index.m3u8",
			},
		},
		{
			name:    "paths with spaces stay single arguments",
			input:   "/tmp/my video; rm -rf.mp4",
			outDir:  "/tmp/out dir",
			seconds: 6,
			want: []string{
				"-i", "/tmp/my video; rm -rf.mp4",
				"-codec:v", "libx264",
				"-codec:a", "aac",
				"-hls_time", "6",
				"-hls_playlist_type", "vod",
				"-hls_segment_filename", "/tmp/out dir/segment%03d.ts",
				"-start_number", "0",
				"/tmp/out dir/index.m3u8",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildArgs(tt.input, tt.outDir, tt.seconds)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("BuildArgs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(8)
	_, _ = tb.Write([]byte("hello"))
	_, _ = tb.Write([]byte(" world"))
	if got := tb.String(); got != "lo world" {
		t.Fatalf("tail = %q", got)
	}
	_, _ = tb.Write([]byte("0123456789"))
	if got := tb.String(); got != "23456789" {
		t.Fatalf("tail after oversized write = %q", got)
	}
	if tb.Written() != 21 {
		t.Fatalf("written = %d", tb.Written())
	}
}
