package audio

import (
	"io"
	"sync"
)

// Sink receives synthesized audio frames from the session's playback
// path
type Sink interface {
	// WriteFrame consumes one frame of PCM bytes
	WriteFrame(data []byte) error

	// Close flushes and releases the sink
	Close() error
}

// DiscardSink counts frames and bytes without storing them. Used when
// no output device is attached, e.g. the self-test path.
type DiscardSink struct {
	mu     sync.Mutex
	frames int
	bytes  int64
}

// NewDiscardSink creates a counting sink
func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

func (s *DiscardSink) WriteFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.bytes += int64(len(data))
	return nil
}

func (s *DiscardSink) Close() error { return nil }

// Stats returns the frame and byte counts seen so far
func (s *DiscardSink) Stats() (frames int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.bytes
}

// WriterSink streams raw PCM bytes to an io.Writer, typically a file
// for offline inspection
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w as a Sink. If w is an io.Closer, Close closes
// it.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(data)
	return err
}

func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// BufferedSink stages frames through a ring buffer so a slow consumer
// cannot stall synthesis. Overflow drops the oldest-pending bytes'
// successors, i.e. the newest write loses.
type BufferedSink struct {
	ring *RingBuffer
}

// NewBufferedSink creates a sink buffering up to size bytes
func NewBufferedSink(size int) *BufferedSink {
	return &BufferedSink{ring: NewRingBuffer(size)}
}

func (s *BufferedSink) WriteFrame(data []byte) error {
	s.ring.Write(data)
	return nil
}

func (s *BufferedSink) Close() error {
	s.ring.Clear()
	return nil
}

// Drain reads up to len(data) buffered bytes for the consumer side
func (s *BufferedSink) Drain(data []byte) int {
	return s.ring.Read(data)
}

// Buffered returns the number of bytes waiting for the consumer
func (s *BufferedSink) Buffered() int {
	return s.ring.Available()
}
