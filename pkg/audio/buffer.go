package audio

import "sync"

// DefaultCapacity bounds a stream buffer to roughly two seconds of 20ms wire
// chunks.
const DefaultCapacity = 100

// ChunkBuffer is a bounded FIFO of raw inbound audio chunks. Push never
// blocks: when the buffer is full the oldest chunk is evicted so a stalled
// consumer can never back up the wire receive path. Safe for one producer
// and one consumer running concurrently.
type ChunkBuffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	capacity int
}

func NewChunkBuffer(capacity int) *ChunkBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ChunkBuffer{capacity: capacity}
}

// Push appends a chunk, evicting the oldest when at capacity. It reports
// whether an eviction happened.
func (b *ChunkBuffer) Push(chunk []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	evicted := false
	if len(b.chunks) >= b.capacity {
		b.chunks = b.chunks[1:]
		evicted = true
	}
	b.chunks = append(b.chunks, chunk)
	return evicted
}

// Drain removes and returns up to max chunks in arrival order. A max of zero
// or less drains everything.
func (b *ChunkBuffer) Drain(max int) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.chunks)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := b.chunks[:n:n]
	b.chunks = append([][]byte(nil), b.chunks[n:]...)
	return out
}

// Len reports the number of buffered chunks.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Clear discards all buffered chunks.
func (b *ChunkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
}
