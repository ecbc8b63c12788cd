package audio

import (
	"fmt"
	"sync"
	"time"
)

// Buffer accumulates recorded audio fragments for a single recording in arrival order.
// It has no size cap; callers Reset it as soon as the fragments are assembled.
type Buffer struct {
	mimeType string

	fragments [][]byte
	totalSize int

	// Timing and metadata
	firstWrite time.Time
	lastUpdate time.Time
	dropped    uint32 // empty fragments ignored

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	MimeType   string    `json:"mime_type"`
	Fragments  int       `json:"fragments"`
	TotalBytes int       `json:"total_bytes"`
	Dropped    uint32    `json:"dropped_fragments"`
	LastUpdate time.Time `json:"last_update"`
}

// NewBuffer creates an empty fragment buffer tagged with mimeType
func NewBuffer(mimeType string) *Buffer {
	return &Buffer{
		mimeType:   mimeType,
		fragments:  make([][]byte, 0, 16),
		lastUpdate: time.Now(),
	}
}

// Append copies a fragment onto the end of the buffer.
// Empty fragments are counted and ignored.
func (b *Buffer) Append(fragment []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if len(fragment) == 0 {
		b.dropped++
		return
	}

	if len(b.fragments) == 0 {
		b.firstWrite = now
	}

	data := make([]byte, len(fragment))
	copy(data, fragment)
	b.fragments = append(b.fragments, data)
	b.totalSize += len(data)
	b.lastUpdate = now
}

// Assemble concatenates all fragments in arrival order into a single slice.
func (b *Buffer) Assemble() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.fragments) == 0 {
		return nil, fmt.Errorf("no audio fragments buffered")
	}

	out := make([]byte, 0, b.totalSize)
	for _, fragment := range b.fragments {
		out = append(out, fragment...)
	}

	return out, nil
}

// Reset drops every buffered fragment
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fragments = make([][]byte, 0, 16)
	b.totalSize = 0
	b.dropped = 0
	b.firstWrite = time.Time{}
	b.lastUpdate = time.Now()
}

// MimeType returns the content type the fragments are encoded in
func (b *Buffer) MimeType() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mimeType
}

// Len returns the number of buffered fragments
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.fragments)
}

// Size returns the total number of buffered bytes
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalSize
}

// FirstWrite returns when the first non-empty fragment arrived (zero if none)
func (b *Buffer) FirstWrite() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.firstWrite
}

// GetLastUpdate returns when the buffer was last modified
func (b *Buffer) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// GetStats returns buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		MimeType:   b.mimeType,
		Fragments:  len(b.fragments),
		TotalBytes: b.totalSize,
		Dropped:    b.dropped,
		LastUpdate: b.lastUpdate,
	}
}
