package tts

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/observability"
)

// frameLogInterval is how often emitted frames are logged after the first
const frameLogInterval = 50

// LoggedStream is a transparent pass-through around a SynthesizeStream
// that counts emitted frames and logs milestones (first frame, every Nth
// frame, stream completion) tagged with the producing provider. It never
// alters frame content, order or count.
type LoggedStream struct {
	inner    SynthesizeStream
	provider func() string
	logger   zerolog.Logger

	frames    int64
	completed bool
}

// NewLoggedStream wraps inner. provider is evaluated per frame so wrappers
// whose backend can change mid-utterance report the correct producer.
func NewLoggedStream(inner SynthesizeStream, provider func() string) *LoggedStream {
	return &LoggedStream{
		inner:    inner,
		provider: provider,
		logger:   observability.WithComponent("tts-stream"),
	}
}

// PushText forwards the chunk unchanged
func (l *LoggedStream) PushText(text string) {
	l.inner.PushText(text)
}

// MarkSegmentEnd forwards the end marker unchanged
func (l *LoggedStream) MarkSegmentEnd() {
	l.inner.MarkSegmentEnd()
}

// Next forwards the pull, counting frames and logging milestones
func (l *LoggedStream) Next(ctx context.Context) (*AudioFrame, error) {
	frame, err := l.inner.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) && !l.completed {
			l.completed = true
			l.logger.Info().
				Str("provider", l.provider()).
				Int64("total_frames", l.frames).
				Msg("TTS stream complete")
		}
		return nil, err
	}

	l.frames++
	observability.RecordTTSFrame(l.provider(), len(frame.Data))

	if l.frames == 1 {
		l.logger.Info().
			Str("provider", l.provider()).
			Msg("First audio frame emitted")
	} else if l.frames%frameLogInterval == 0 {
		l.logger.Debug().
			Str("provider", l.provider()).
			Int64("frames", l.frames).
			Msg("Audio frames emitted")
	}

	return frame, nil
}

// Close forwards to the inner stream
func (l *LoggedStream) Close() error {
	return l.inner.Close()
}

// FrameCount returns the number of frames emitted so far
func (l *LoggedStream) FrameCount() int64 {
	return l.frames
}
