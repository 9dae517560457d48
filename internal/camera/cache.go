package camera

import "sync"

// Cache is the single-slot holder of the most recent frame. Writes replace
// the slot; readers receive an independent copy. The mutex is held only for
// the pointer swap, never across I/O or the copy itself (frame data is
// immutable once stored).
type Cache struct {
	mu    sync.Mutex
	frame *Frame
}

// Set replaces the cached frame. Called only by the acquisition loop.
func (c *Cache) Set(f Frame) {
	c.mu.Lock()
	c.frame = &f
	c.mu.Unlock()
}

// Get returns a copy of the current frame, or false if none has ever been
// captured.
func (c *Cache) Get() (Frame, bool) {
	c.mu.Lock()
	f := c.frame
	c.mu.Unlock()
	if f == nil {
		return Frame{}, false
	}
	return f.Clone(), true
}
