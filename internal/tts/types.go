package tts

import (
	"context"
	"errors"
)

// AudioFrame is one unit of synthesized audio. Frames are ordered by
// production; the consumer must observe them exactly as produced.
type AudioFrame struct {
	Data       []byte // Raw PCM audio (16-bit signed, little-endian)
	SampleRate int    // Sample rate in Hz
	Channels   int    // Number of channels (1 for mono)
}

// SynthesizeStream is a push/pull synthesis stream for a single utterance.
// The caller pushes text chunks, marks the end of the segment, then pulls
// frames until Next returns io.EOF.
type SynthesizeStream interface {
	// PushText appends a text chunk to the utterance. Empty chunks are
	// legal no-ops. Never fails; transport errors surface on Next.
	PushText(text string)

	// MarkSegmentEnd records that no further text will be pushed.
	MarkSegmentEnd()

	// Next returns the next audio frame. Returns io.EOF when the stream
	// is exhausted; calling Next after io.EOF keeps returning io.EOF.
	Next(ctx context.Context) (*AudioFrame, error)

	// Close releases the underlying connection. Safe to call on every
	// exit path, including after a failure.
	Close() error
}

// Provider produces speech from text, either as a push/pull stream or in
// one shot.
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// Stream opens a synthesis stream for one utterance
	Stream(ctx context.Context) (SynthesizeStream, error)

	// Synthesize converts a complete text to raw audio in one request
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ActiveProvider identifies which backend is serving the in-flight
// utterance. Transitions are one-way: Primary to Fallback, never back.
type ActiveProvider int

const (
	ProviderNone ActiveProvider = iota
	ProviderPrimary
	ProviderFallback
)

// String returns the provider label used in logs and metrics
func (p ActiveProvider) String() string {
	switch p {
	case ProviderPrimary:
		return "primary"
	case ProviderFallback:
		return "fallback"
	default:
		return "none"
	}
}

// ErrAllProvidersFailed indicates that the fallback provider failed after
// the primary already had, or that fallback was unavailable. It is terminal
// for the utterance and distinct from normal exhaustion (io.EOF).
var ErrAllProvidersFailed = errors.New("all tts providers failed")
