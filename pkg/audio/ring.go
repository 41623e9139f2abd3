package audio

import "sync"

// RingBuffer is a fixed-capacity circular byte store with a discard-oldest
// overflow policy. It backs the converter's per-source staging area: the
// capture callback writes, the chunk ticker reads, so access is guarded by a
// mutex. Neither operation ever blocks.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	capacity int
	readPos  int
	size     int
}

// NewRingBuffer creates a ring buffer holding at most capacity bytes.
// Panics if capacity is not positive.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("audio: ring buffer capacity must be positive")
	}
	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends p to the buffer. If p does not fit, the oldest bytes are
// discarded first so that the newest audio is always retained. It returns
// false when an overflow occurred and true otherwise.
func (rb *RingBuffer) Write(p []byte) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(p) == 0 {
		return true
	}

	// Incoming data alone exceeds capacity: keep only its newest tail.
	if len(p) >= rb.capacity {
		copy(rb.data, p[len(p)-rb.capacity:])
		rb.readPos = 0
		rb.size = rb.capacity
		return false
	}

	overflowed := false
	if excess := rb.size + len(p) - rb.capacity; excess > 0 {
		// Discard exactly the oldest excess bytes.
		rb.readPos = (rb.readPos + excess) % rb.capacity
		rb.size -= excess
		overflowed = true
	}

	writePos := (rb.readPos + rb.size) % rb.capacity
	n := copy(rb.data[writePos:], p)
	if n < len(p) {
		copy(rb.data, p[n:])
	}
	rb.size += len(p)

	return !overflowed
}

// Read removes and returns exactly n bytes in FIFO order. When fewer than n
// bytes are available it returns nil and leaves the buffer unchanged; there
// are no partial reads.
func (rb *RingBuffer) Read(n int) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if n <= 0 || rb.size < n {
		return nil
	}

	out := make([]byte, n)
	c := copy(out, rb.data[rb.readPos:min(rb.readPos+n, rb.capacity)])
	if c < n {
		copy(out[c:], rb.data)
	}
	rb.readPos = (rb.readPos + n) % rb.capacity
	rb.size -= n
	return out
}

// Available returns the number of buffered bytes. The result is always
// ≤ Capacity.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the fixed capacity in bytes.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// Clear discards all buffered bytes.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos = 0
	rb.size = 0
}
