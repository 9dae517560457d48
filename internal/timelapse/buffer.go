package timelapse

import (
	"sync"
	"time"
)

// Entry references a persisted still frame pending compilation.
type Entry struct {
	Path       string
	CapturedAt time.Time
}

// Buffer is the append-only FIFO of not-yet-compiled frame references.
// Append is O(1) and never touches the filesystem; the stills themselves are
// already on disk. The buffer applies no backpressure: it grows until a
// flush trigger fires, bounded in practice by the compile threshold.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
}

// Append adds a frame reference in capture order.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

// Len returns the number of pending entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Take removes and returns all pending entries in capture order. The caller
// owns the returned slice; on a failed compile cycle it hands them back with
// Restore so no frame is silently lost.
func (b *Buffer) Take() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	taken := b.entries
	b.entries = nil
	return taken
}

// Restore puts previously taken entries back at the front of the queue,
// ahead of anything appended since, preserving capture order.
func (b *Buffer) Restore(taken []Entry) {
	if len(taken) == 0 {
		return
	}
	b.mu.Lock()
	b.entries = append(taken[:len(taken):len(taken)], b.entries...)
	b.mu.Unlock()
}
