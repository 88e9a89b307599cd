package writer

import (
	"sync"

	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/store"
)

// Record is a buffered trophy change plus the acknowledgement of the
// notification it came from.
type Record struct {
	Change store.TrophyChange
	Ack    feed.AckFunc
}

// Buffer holds records between flushes. Every access goes through one mutex,
// so a swap never observes a half-appended record.
type Buffer struct {
	mu      sync.Mutex
	records []Record
}

// NewBuffer creates an empty buffer
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends a record and returns the buffer size afterwards
func (b *Buffer) Add(r Record) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, r)
	return len(b.records)
}

// Swap takes the whole contents, leaving an empty buffer behind
func (b *Buffer) Swap() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.records
	b.records = nil
	return batch
}

// Restore puts a batch that could not be written back in front of anything
// appended since it was swapped out, keeping arrival order.
func (b *Buffer) Restore(batch []Record) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(batch) == 0 {
		return len(b.records)
	}
	merged := make([]Record, 0, len(batch)+len(b.records))
	merged = append(merged, batch...)
	merged = append(merged, b.records...)
	b.records = merged
	return len(b.records)
}

// Size returns the current size
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
