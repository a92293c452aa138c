package process

import (
	"sync"
)

// TruncationMarker is appended exactly once when a session's output buffer
// reaches its byte cap. Everything after it is discarded.
const TruncationMarker = "\n[output truncated]\n"

// cappedBuffer is a thread-safe, append-only byte buffer with a hard cap.
// Stdout and stderr of one session both write here, so consumers see a
// single ordered stream. The chunk that would cross the cap is cut to fit,
// the truncation marker is appended, and all later writes are dropped.
// A fixed-size tail window is maintained on every append so the most recent
// output is available without rescanning the buffer.
type cappedBuffer struct {
	mu        sync.Mutex
	data      []byte
	max       int
	tailMax   int
	tail      []byte
	truncated bool
}

func newCappedBuffer(maxBytes, tailBytes int) *cappedBuffer {
	return &cappedBuffer{
		data:    make([]byte, 0, min(maxBytes, 4096)),
		max:     maxBytes,
		tailMax: tailBytes,
	}
}

// Write implements io.Writer. It always reports the full length as written
// so the draining pipes never error out; dropped bytes are simply gone.
func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return len(p), nil
	}

	room := b.max - len(b.data)
	if len(p) <= room {
		b.append(p)
		return len(p), nil
	}

	// First overflowing chunk: keep what fits, mark, seal.
	b.append(p[:room])
	b.truncated = true
	b.append([]byte(TruncationMarker))
	return len(p), nil
}

// forceAppend appends bytes regardless of the cap (used for the timeout
// marker). It does not unseal a truncated buffer's normal writes.
func (b *cappedBuffer) forceAppend(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(p)
}

// append assumes b.mu is held.
func (b *cappedBuffer) append(p []byte) {
	b.data = append(b.data, p...)
	if b.tailMax <= 0 {
		return
	}
	b.tail = append(b.tail, p...)
	if len(b.tail) > b.tailMax {
		b.tail = b.tail[len(b.tail)-b.tailMax:]
	}
}

// ReadFrom returns buffered content from the given byte offset onward.
// Offsets past the end yield an empty string. The buffer never drops data,
// so an offset handed out earlier always remains valid.
func (b *cappedBuffer) ReadFrom(offset int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(b.data) {
		return ""
	}
	return string(b.data[offset:])
}

// ReadFromAndLen returns the content from offset onward together with the
// buffer length that content runs up to, under one lock hold. Poll needs the
// pair to be consistent: advancing a cursor past bytes it never returned
// would lose output appended between two separate calls.
func (b *cappedBuffer) ReadFromAndLen(offset int) (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := len(b.data)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return "", total
	}
	return string(b.data[offset:]), total
}

// Slice returns up to limit bytes starting at offset, plus the total length.
func (b *cappedBuffer) Slice(offset, limit int) (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := len(b.data)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return string(b.data[offset:end]), total
}

// Len returns the current buffer length in bytes.
func (b *cappedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Tail returns the fixed-size trailing window.
func (b *cappedBuffer) Tail() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.tail)
}

// Truncated reports whether the byte cap was hit.
func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
