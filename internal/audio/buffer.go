package audio

import "sync"

// RingBuffer is a fixed-capacity thread-safe byte ring used to smooth
// playback jitter between the synthesizer and the output device
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	read  int
	write int
	count int
}

// NewRingBuffer creates a ring buffer holding up to size bytes
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, size)}
}

// Write copies data into the buffer, returning how many bytes fit.
// When the buffer fills, the remainder is dropped rather than blocking
// the synthesis path.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for _, b := range data {
		if rb.count == len(rb.buf) {
			break
		}
		rb.buf[rb.write] = b
		rb.write = (rb.write + 1) % len(rb.buf)
		rb.count++
		written++
	}
	return written
}

// Read copies up to len(data) buffered bytes into data and returns the
// count. Returns 0 when the buffer is empty.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(data) && rb.count > 0 {
		data[read] = rb.buf[rb.read]
		rb.read = (rb.read + 1) % len(rb.buf)
		rb.count--
		read++
	}
	return read
}

// Available returns the number of bytes buffered for reading
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Space returns how many more bytes can be written without dropping
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - rb.count
}

// Clear discards all buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
	rb.count = 0
}

// IsEmpty reports whether no bytes are buffered
func (rb *RingBuffer) IsEmpty() bool {
	return rb.Available() == 0
}

// IsFull reports whether the next write would drop bytes
func (rb *RingBuffer) IsFull() bool {
	return rb.Space() == 0
}
