// Package framebuffer holds the most recently captured frame between the
// capture goroutine and the pipeline goroutine.
package framebuffer

import (
	"sync"

	"github.com/smazurov/deskstream/internal/media"
)

// Stats reports slot activity since creation or the last Reset.
type Stats struct {
	Published uint64 `json:"published"`
	// Overwritten counts frames replaced before anyone took them.
	Overwritten uint64 `json:"overwritten"`
}

// Buffer is a single-slot, latest-wins frame holder.
//
// Publish always replaces the held frame. TakeLatest returns the held frame
// without removing it, so a slow producer yields the same frame again and a
// fast producer silently drops the frames nobody read. Neither operation
// waits on the other side.
type Buffer struct {
	mu    sync.Mutex
	frame *media.Frame
	taken bool
	stats Stats
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Publish stores frame as the latest, discarding any previous one.
func (b *Buffer) Publish(frame *media.Frame) {
	if frame == nil {
		return
	}
	b.mu.Lock()
	if b.frame != nil && !b.taken {
		b.stats.Overwritten++
	}
	b.frame = frame
	b.taken = false
	b.stats.Published++
	b.mu.Unlock()
}

// TakeLatest returns the most recent frame, or false if nothing has been
// published yet.
func (b *Buffer) TakeLatest() (*media.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil {
		return nil, false
	}
	b.taken = true
	return b.frame, true
}

// Stats returns a copy of the slot counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset empties the slot and clears counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.frame = nil
	b.taken = false
	b.stats = Stats{}
	b.mu.Unlock()
}
