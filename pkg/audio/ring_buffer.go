package audio

import (
	"sync"
)

// RingBuffer is a fixed-capacity circular buffer of PCM bytes.
//
// The streaming transcription provider uses it to retain audio written
// while a socket reconnect is in progress: writes past capacity overwrite
// the oldest audio, so at most the newest window survives an outage.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	capacity int
	writePos int
	size     int
}

// NewRingBuffer creates a ring buffer holding durationMs of 16-bit mono
// PCM at the given sample rate.
func NewRingBuffer(sampleRate, durationMs int) *RingBuffer {
	capacity := sampleRate * durationMs / 1000 * BytesPerSample
	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends PCM to the buffer, overwriting the oldest bytes when full.
func (rb *RingBuffer) Write(pcm []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(pcm)
	if n == 0 {
		return
	}

	if n >= rb.capacity {
		copy(rb.data, pcm[n-rb.capacity:])
		rb.writePos = 0
		rb.size = rb.capacity
		return
	}

	tail := rb.capacity - rb.writePos
	if n <= tail {
		copy(rb.data[rb.writePos:], pcm)
		rb.writePos = (rb.writePos + n) % rb.capacity
	} else {
		copy(rb.data[rb.writePos:], pcm[:tail])
		copy(rb.data, pcm[tail:])
		rb.writePos = n - tail
	}

	rb.size += n
	if rb.size > rb.capacity {
		rb.size = rb.capacity
	}
}

// Drain returns all buffered bytes in chronological order and empties
// the buffer.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}

	out := make([]byte, rb.size)
	if rb.size < rb.capacity {
		copy(out, rb.data[:rb.size])
	} else {
		head := rb.capacity - rb.writePos
		copy(out[:head], rb.data[rb.writePos:])
		copy(out[head:], rb.data[:rb.writePos])
	}

	rb.writePos = 0
	rb.size = 0
	return out
}

// Size returns the number of buffered bytes.
func (rb *RingBuffer) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the fixed capacity in bytes.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
