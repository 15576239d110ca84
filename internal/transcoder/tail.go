// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import "sync"

// DiagnosticsLimit caps the captured process output kept for a failure.
const DiagnosticsLimit = 8 << 10

// tailBuffer is an io.Writer that retains only the last limit bytes written.
// ffmpeg's stdout and stderr share one instance.
type tailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	written int64
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit, buf: make([]byte, 0, limit)}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.written += int64(len(p))
	if len(p) >= t.limit {
		t.buf = append(t.buf[:0], p[len(p)-t.limit:]...)
		return len(p), nil
	}
	if over := len(t.buf) + len(p) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Written is the total byte count seen, including discarded output.
func (t *tailBuffer) Written() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}
