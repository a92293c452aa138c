package process

import (
	"strings"
	"testing"
)

func TestCappedBufferAppendWithinCap(t *testing.T) {
	b := newCappedBuffer(64, 16)

	if _, err := b.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := b.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := b.ReadFrom(0); got != "hello world" {
		t.Errorf("ReadFrom(0) = %q, want %q", got, "hello world")
	}
	if b.Truncated() {
		t.Error("buffer should not be truncated")
	}
}

func TestCappedBufferTruncation(t *testing.T) {
	b := newCappedBuffer(256, 100)

	// 2000 bytes in uneven chunks.
	payload := strings.Repeat("x", 2000)
	for i := 0; i < len(payload); i += 300 {
		end := i + 300
		if end > len(payload) {
			end = len(payload)
		}
		b.Write([]byte(payload[i:end]))
	}

	if !b.Truncated() {
		t.Fatal("expected truncated buffer")
	}
	content := b.ReadFrom(0)
	if n := strings.Count(content, strings.TrimSpace(TruncationMarker)); n != 1 {
		t.Errorf("truncation marker count = %d, want 1", n)
	}
	// Cap plus the marker is the hard ceiling.
	if len(content) > 256+len(TruncationMarker) {
		t.Errorf("buffer length %d exceeds cap plus marker", len(content))
	}
	if tail := b.Tail(); len(tail) > 100 {
		t.Errorf("tail length %d exceeds window 100", len(tail))
	}
}

func TestCappedBufferDiscardsAfterTruncation(t *testing.T) {
	b := newCappedBuffer(10, 50)

	b.Write([]byte("0123456789ABC")) // overflows, seals the buffer
	before := b.Len()
	b.Write([]byte("more output"))
	if b.Len() != before {
		t.Errorf("sealed buffer grew from %d to %d", before, b.Len())
	}
}

func TestCappedBufferForceAppendBypassesCap(t *testing.T) {
	b := newCappedBuffer(10, 50)
	b.Write([]byte("01234567890123")) // truncate
	b.forceAppend([]byte("[marker]"))

	if !strings.HasSuffix(b.ReadFrom(0), "[marker]") {
		t.Errorf("forceAppend content missing: %q", b.ReadFrom(0))
	}
}

func TestCappedBufferReadFromOffsets(t *testing.T) {
	b := newCappedBuffer(64, 16)
	b.Write([]byte("abcdef"))

	if got := b.ReadFrom(3); got != "def" {
		t.Errorf("ReadFrom(3) = %q, want %q", got, "def")
	}
	if got := b.ReadFrom(6); got != "" {
		t.Errorf("ReadFrom(6) = %q, want empty", got)
	}
	if got := b.ReadFrom(100); got != "" {
		t.Errorf("ReadFrom(100) = %q, want empty", got)
	}
	if got := b.ReadFrom(-5); got != "abcdef" {
		t.Errorf("ReadFrom(-5) = %q, want full content", got)
	}
}

// A cursor advanced from the length ReadFromAndLen reports must never skip
// bytes, even while a writer keeps appending.
func TestCappedBufferReadFromAndLenConsistentUnderWrites(t *testing.T) {
	b := newCappedBuffer(1<<20, 16)

	const chunks = 5000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < chunks; i++ {
			b.Write([]byte("0123456789"))
		}
	}()

	var collected strings.Builder
	cursor := 0
	for {
		chunk, end := b.ReadFromAndLen(cursor)
		if end != cursor+len(chunk) {
			t.Fatalf("end = %d, cursor %d + chunk %d bytes", end, cursor, len(chunk))
		}
		collected.WriteString(chunk)
		cursor = end

		select {
		case <-done:
			chunk, end = b.ReadFromAndLen(cursor)
			collected.WriteString(chunk)
			cursor = end
			if collected.Len() != chunks*10 {
				t.Fatalf("collected %d bytes, want %d", collected.Len(), chunks*10)
			}
			if collected.String() != b.ReadFrom(0) {
				t.Error("collected content diverges from buffer")
			}
			return
		default:
		}
	}
}

func TestCappedBufferSlice(t *testing.T) {
	b := newCappedBuffer(64, 16)
	b.Write([]byte("abcdefghij"))

	chunk, total := b.Slice(2, 4)
	if chunk != "cdef" || total != 10 {
		t.Errorf("Slice(2,4) = (%q, %d), want (%q, 10)", chunk, total, "cdef")
	}
	chunk, _ = b.Slice(8, 100)
	if chunk != "ij" {
		t.Errorf("Slice(8,100) = %q, want %q", chunk, "ij")
	}
}
