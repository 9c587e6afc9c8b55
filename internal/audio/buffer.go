package audio

import "sync"

// RingBuffer is a thread-safe byte ring buffer. The chunker uses one to
// accumulate PCM between timeslice ticks without blocking the device reader.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	count  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write writes data to the ring buffer, overwriting the oldest bytes when
// full so the newest audio is always retained. Returns len(data).
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(data) >= rb.size {
		copy(rb.buffer, data[len(data)-rb.size:])
		rb.read = 0
		rb.count = rb.size
		return len(data)
	}
	for _, b := range data {
		rb.buffer[(rb.read+rb.count)%rb.size] = b
		if rb.count == rb.size {
			rb.read = (rb.read + 1) % rb.size
		} else {
			rb.count++
		}
	}
	return len(data)
}

// Read reads up to len(data) bytes. Returns the number of bytes read.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for i := 0; i < len(data); i++ {
		if rb.count == 0 {
			break // buffer empty
		}
		data[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
		rb.count--
		read++
	}
	return read
}

// Drain reads and returns everything currently buffered.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil
	}
	out := make([]byte, rb.count)
	for i := range out {
		out[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
	}
	rb.count = 0
	return out
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.count = 0
}
