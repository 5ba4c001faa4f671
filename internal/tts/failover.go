package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/observability"
)

// FailoverTTS presents one synthesis interface over a primary and a
// fallback provider. Streams opened through it buffer pushed text so the
// utterance can be replayed verbatim against the fallback if the primary
// fails, whether at open time or mid-stream.
type FailoverTTS struct {
	primary       Provider
	fallback      Provider // nil when no fallback key is configured
	forceFallback bool
	logger        zerolog.Logger

	mu     sync.RWMutex
	active ActiveProvider
}

// NewFailoverTTS creates a failover wrapper. fallback may be nil, which
// disables failover entirely. With forceFallback set the primary is never
// opened; streams go straight to the fallback provider (fault injection).
func NewFailoverTTS(primary, fallback Provider, forceFallback bool) *FailoverTTS {
	logger := observability.WithComponent("tts-failover")

	fallbackName := "disabled"
	if fallback != nil {
		fallbackName = fallback.Name()
	}
	logger.Info().
		Str("primary", primary.Name()).
		Str("fallback", fallbackName).
		Bool("force_fallback", forceFallback).
		Msg("Failover TTS initialized")

	if forceFallback && fallback == nil {
		logger.Warn().Msg("Forced fallback requested but no fallback provider configured - using primary")
		forceFallback = false
	}

	return &FailoverTTS{
		primary:       primary,
		fallback:      fallback,
		forceFallback: forceFallback,
		logger:        logger,
	}
}

// Name identifies the wrapper in logs and metrics
func (f *FailoverTTS) Name() string { return "failover" }

// ActiveProvider reports which backend served the most recent utterance
func (f *FailoverTTS) ActiveProvider() ActiveProvider {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

func (f *FailoverTTS) setActive(p ActiveProvider) {
	f.mu.Lock()
	f.active = p
	f.mu.Unlock()
}

// Synthesize converts a complete text in one shot, trying the primary and
// switching to the fallback on failure.
func (f *FailoverTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.forceFallback {
		f.logger.Warn().Msg("Forced fallback enabled - bypassing primary TTS")
		f.setActive(ProviderFallback)
		return f.fallback.Synthesize(ctx, text)
	}

	f.setActive(ProviderPrimary)
	data, err := f.primary.Synthesize(ctx, text)
	if err == nil {
		return data, nil
	}

	f.logger.Error().Err(err).Msg("Primary TTS synthesize failed")
	observability.RecordError("tts-primary")
	if f.fallback == nil {
		return nil, err
	}

	observability.RecordTTSFailover()
	f.setActive(ProviderFallback)
	data, err = f.fallback.Synthesize(ctx, text)
	if err != nil {
		f.logger.Error().Err(err).Msg("Fallback TTS synthesize failed")
		observability.RecordError("tts-fallback")
		return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, err)
	}
	return data, nil
}

// Stream opens a failover synthesis stream for one utterance. The inner
// provider connection is opened lazily on the first Next call, so Stream
// itself never fails.
func (f *FailoverTTS) Stream(ctx context.Context) (SynthesizeStream, error) {
	f.setActive(ProviderNone)
	return &failoverStream{parent: f, logger: f.logger}, nil
}

// failoverStream buffers pushed text in an append-only log so the full
// utterance can be replayed against the fallback provider. At most one
// inner stream is live at a time; the Primary-to-Fallback switch happens
// at most once and is never reversed.
type failoverStream struct {
	parent *FailoverTTS
	logger zerolog.Logger

	mu           sync.Mutex
	textLog      []string // ordered, append-only
	segmentEnded bool
	cur          SynthesizeStream
	active       ActiveProvider
	switched     bool  // fallback is live; no further recovery
	failed       error // terminal failure; Next keeps returning it
	exhausted    bool
	closed       bool
}

// PushText records the chunk for replay and forwards it to the inner
// stream when one is open.
func (s *failoverStream) PushText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textLog = append(s.textLog, text)
	if s.cur != nil {
		s.cur.PushText(text)
	}
}

// MarkSegmentEnd records the end marker and forwards it to the inner
// stream when one is open.
func (s *failoverStream) MarkSegmentEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmentEnded = true
	if s.cur != nil {
		s.cur.MarkSegmentEnd()
	}
}

// Next returns the next audio frame, opening the primary lazily on the
// first call and switching to the fallback on any primary failure. Once
// exhausted it keeps returning io.EOF; once failed it keeps returning
// the terminal error and never reopens a provider.
func (s *failoverStream) Next(ctx context.Context) (*AudioFrame, error) {
	for {
		s.mu.Lock()
		if s.exhausted {
			s.mu.Unlock()
			return nil, io.EOF
		}
		if s.failed != nil {
			err := s.failed
			s.mu.Unlock()
			return nil, err
		}
		if s.cur == nil {
			if err := s.openLocked(ctx); err != nil {
				s.mu.Unlock()
				return nil, err
			}
		}
		cur := s.cur
		s.mu.Unlock()

		frame, err := cur.Next(ctx)
		if err == nil {
			return frame, nil
		}

		if errors.Is(err, io.EOF) {
			s.mu.Lock()
			s.exhausted = true
			active := s.active
			s.mu.Unlock()
			observability.RecordTTSStream(active.String(), "success")
			return nil, io.EOF
		}

		// Caller abandonment is not a provider failure; do not burn the
		// single failover attempt on it.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		s.mu.Lock()
		if s.switched {
			s.failed = fmt.Errorf("%w: %v", ErrAllProvidersFailed, err)
			terminal := s.failed
			active := s.active
			s.mu.Unlock()
			s.logger.Error().Err(err).Msg("Fallback TTS stream error")
			observability.RecordError("tts-fallback")
			observability.RecordTTSStream(active.String(), "error")
			return nil, terminal
		}

		s.logger.Error().Err(err).Msg("Primary TTS stream error during pull")
		observability.RecordError("tts-primary")
		_ = cur.Close()
		s.cur = nil
		ferr := s.failoverLocked(ctx)
		s.mu.Unlock()
		if ferr != nil {
			observability.RecordTTSStream(ProviderPrimary.String(), "error")
			return nil, ferr
		}
		// Loop: resume pulling from the fallback stream.
	}
}

// Close releases the open inner stream, if any. Idempotent.
func (s *failoverStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}

// openLocked opens the first inner stream: the fallback in forced mode,
// the primary otherwise. Caller holds s.mu.
func (s *failoverStream) openLocked(ctx context.Context) error {
	if s.parent.forceFallback {
		s.logger.Warn().Msg("Forced fallback enabled - bypassing primary TTS")
		return s.openFallbackLocked(ctx)
	}

	inner, err := s.parent.primary.Stream(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Primary TTS stream open failed")
		observability.RecordError("tts-primary")
		return s.failoverLocked(ctx)
	}

	s.logger.Info().Str("provider", s.parent.primary.Name()).Msg("Primary TTS stream opened")
	s.adoptLocked(inner, ProviderPrimary)
	return nil
}

// failoverLocked tears down the primary path and brings up the fallback,
// replaying the full text log. Caller holds s.mu.
func (s *failoverStream) failoverLocked(ctx context.Context) error {
	if s.parent.fallback == nil {
		s.failed = fmt.Errorf("%w: primary failed and no fallback is configured", ErrAllProvidersFailed)
		return s.failed
	}

	s.logger.Warn().
		Str("fallback", s.parent.fallback.Name()).
		Int("buffered_chunks", len(s.textLog)).
		Msg("Switching to fallback TTS")
	observability.RecordTTSFailover()

	return s.openFallbackLocked(ctx)
}

// openFallbackLocked opens the fallback stream and replays the buffered
// utterance. A failure here is terminal. Caller holds s.mu.
func (s *failoverStream) openFallbackLocked(ctx context.Context) error {
	inner, err := s.parent.fallback.Stream(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Fallback TTS stream open failed")
		observability.RecordError("tts-fallback")
		s.failed = fmt.Errorf("%w: %v", ErrAllProvidersFailed, err)
		return s.failed
	}

	s.switched = true
	s.adoptLocked(inner, ProviderFallback)
	s.logger.Info().Str("provider", s.parent.fallback.Name()).Msg("Fallback TTS stream opened")
	return nil
}

// adoptLocked installs the inner stream and replays the text log and end
// marker onto it in order. Caller holds s.mu.
func (s *failoverStream) adoptLocked(inner SynthesizeStream, active ActiveProvider) {
	s.cur = inner
	s.active = active
	s.parent.setActive(active)

	for _, chunk := range s.textLog {
		s.cur.PushText(chunk)
	}
	if s.segmentEnded {
		s.cur.MarkSegmentEnd()
	}
}
