package sampling

import "github.com/banshee-data/noise.report/internal/db"

// DefaultBatchSize is the number of admitted readings buffered before a flush.
const DefaultBatchSize = 100

// BatchBuffer accumulates admitted readings in arrival order. It is owned by a
// single goroutine and is not safe for concurrent use.
type BatchBuffer struct {
	capacity int
	readings []db.Reading
}

// NewBatchBuffer returns an empty buffer. Non-positive capacities fall back
// to DefaultBatchSize.
func NewBatchBuffer(capacity int) *BatchBuffer {
	if capacity <= 0 {
		capacity = DefaultBatchSize
	}
	return &BatchBuffer{
		capacity: capacity,
		readings: make([]db.Reading, 0, capacity),
	}
}

// Append adds r to the tail and reports whether the buffer is now full.
func (b *BatchBuffer) Append(r db.Reading) bool {
	b.readings = append(b.readings, r)
	return len(b.readings) >= b.capacity
}

// Drain hands over every buffered reading and leaves the buffer empty. The
// returned slice is never nil and is not reused by the buffer.
func (b *BatchBuffer) Drain() []db.Reading {
	out := b.readings
	b.readings = make([]db.Reading, 0, b.capacity)
	return out
}

// Len returns the number of readings waiting to be drained.
func (b *BatchBuffer) Len() int { return len(b.readings) }

// Cap returns the count at which Append reports the buffer full.
func (b *BatchBuffer) Cap() int { return b.capacity }
