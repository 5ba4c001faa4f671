// Package session orchestrates one conversation: microphone audio
// through VAD and STT, transcripts through the LLM, replies through the
// failover TTS into an audio sink. Lifecycle is surfaced through a
// fixed set of named events.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/audio"
	"github.com/grannylabs/granny-voice/internal/observability"
	"github.com/grannylabs/granny-voice/internal/stt"
	"github.com/grannylabs/granny-voice/internal/tts"
)

// EventType names one session lifecycle event
type EventType string

const (
	EventAgentSpeechStarted   EventType = "agent_speech_started"
	EventAgentSpeechCommitted EventType = "agent_speech_committed"
	EventUserSpeechStarted    EventType = "user_speech_started"
	EventUserSpeechCommitted  EventType = "user_speech_committed"
	EventAgentStateChanged    EventType = "agent_state_changed"
)

var validEvents = map[EventType]bool{
	EventAgentSpeechStarted:   true,
	EventAgentSpeechCommitted: true,
	EventUserSpeechStarted:    true,
	EventUserSpeechCommitted:  true,
	EventAgentStateChanged:    true,
}

// ErrUnknownEvent is returned by On for event names outside the fixed
// set
var ErrUnknownEvent = errors.New("unknown session event")

// Event is the payload delivered to registered handlers
type Event struct {
	Type      EventType
	SessionID string
	Text      string
	Timestamp time.Time
}

// Handler receives one dispatched event. Handlers run on their own
// goroutine and may block without stalling the pipeline.
type Handler func(Event)

// ReplyGenerator produces one assistant reply. Satisfied by llm.Client.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, instructions, userText string) (string, error)
}

// Options configures a session
type Options struct {
	// Instructions is the system prompt for reply generation
	Instructions string

	// Sink receives synthesized audio. Defaults to a discard sink.
	Sink audio.Sink

	// VAD tunes local voice activity detection. Nil uses defaults.
	VAD *audio.VADConfig
}

// Session runs one conversation end to end
type Session struct {
	id           string
	synth        tts.Provider
	llm          ReplyGenerator
	sink         audio.Sink
	vad          *audio.VADDetector
	instructions string
	logger       zerolog.Logger

	mu       sync.Mutex
	handlers map[EventType][]Handler
	sttCli   stt.Client
	state    string
	closed   bool

	loopDone chan struct{}
}

// New creates a session over the given synthesizer and reply generator.
// Attach an STT client with AttachSTT before Start to enable the
// transcript loop.
func New(synth tts.Provider, replies ReplyGenerator, opts Options) *Session {
	sink := opts.Sink
	if sink == nil {
		sink = audio.NewDiscardSink()
	}

	id := observability.NewSessionID()
	return &Session{
		id:           id,
		synth:        synth,
		llm:          replies,
		sink:         sink,
		vad:          audio.NewVADDetector(opts.VAD),
		instructions: opts.Instructions,
		logger:       observability.WithComponent("session").With().Str("session_id", id).Logger(),
		handlers:     make(map[EventType][]Handler),
		state:        "idle",
	}
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// State returns the current agent state
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AttachSTT wires a transcription client into the session. Must be
// called before Start.
func (s *Session) AttachSTT(client stt.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sttCli = client
}

// SpeechEvents returns the callbacks to hand the STT client so its
// voice-activity notifications surface as session events
func (s *Session) SpeechEvents() stt.SpeechEvents {
	return stt.SpeechEvents{
		OnSpeechStarted: func() { s.emit(EventUserSpeechStarted, "") },
		OnUtteranceEnd:  func() { s.emit(EventUserSpeechCommitted, "") },
	}
}

// On registers a handler for one of the fixed lifecycle events
func (s *Session) On(event EventType, fn Handler) error {
	if !validEvents[event] {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], fn)
	return nil
}

// emit dispatches an event to its handlers, each on its own goroutine
// so a slow handler never blocks the audio path
func (s *Session) emit(event EventType, text string) {
	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers[event]...)
	s.mu.Unlock()

	observability.RecordSessionEvent(string(event))

	ev := Event{Type: event, SessionID: s.id, Text: text, Timestamp: time.Now()}
	for _, fn := range handlers {
		go fn(ev)
	}
}

// setState updates the agent state and announces the transition
func (s *Session) setState(state string) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.logger.Debug().Str("state", state).Msg("Agent state changed")
	s.emit(EventAgentStateChanged, state)
}

// Start begins the conversation: starts transcription if attached,
// speaks the on-enter greeting, then listens until ctx is cancelled or
// the session is closed
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.id)
	}
	sttCli := s.sttCli
	s.mu.Unlock()

	observability.RecordSessionStart()
	s.setState("initializing")
	s.logger.Info().Msg("Session starting")

	if sttCli != nil {
		if err := sttCli.Start(); err != nil {
			return fmt.Errorf("failed to start transcription: %w", err)
		}
		done := make(chan struct{})
		s.mu.Lock()
		s.loopDone = done
		s.mu.Unlock()
		go s.transcriptLoop(ctx, sttCli, done)
	}

	greeting, err := s.llm.GenerateReply(ctx, s.instructions, "")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Greeting generation failed, using default")
		greeting = "Hello! How can I help you today?"
	}
	if err := s.Say(ctx, greeting); err != nil {
		return fmt.Errorf("greeting synthesis failed: %w", err)
	}

	s.setState("listening")
	return nil
}

// transcriptLoop turns final transcripts into spoken replies
func (s *Session) transcriptLoop(ctx context.Context, client stt.Client, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-client.Transcripts():
			if !ok {
				return
			}
			if t == nil || !t.IsFinal || t.Text == "" {
				continue
			}

			s.emit(EventUserSpeechCommitted, t.Text)
			s.setState("thinking")

			reply, err := s.llm.GenerateReply(ctx, s.instructions, t.Text)
			if err != nil {
				s.logger.Error().Err(err).Msg("Reply generation failed")
				observability.RecordError("session")
				s.setState("listening")
				continue
			}

			if err := s.Say(ctx, reply); err != nil {
				s.logger.Error().Err(err).Msg("Reply synthesis failed")
			}
			s.setState("listening")
		}
	}
}

// SendAudio feeds one chunk of 16kHz mono PCM microphone audio through
// local VAD and on to the transcription backend
func (s *Session) SendAudio(data []byte) error {
	samples, err := audio.BytesToSamples(data)
	if err != nil {
		return err
	}

	_, started, ended := s.vad.ProcessFrame(samples)
	if started {
		s.logger.Debug().Msg("Local VAD: speech started")
		s.emit(EventUserSpeechStarted, "")
	}
	if ended {
		s.logger.Debug().Msg("Local VAD: speech ended")
	}

	s.mu.Lock()
	sttCli := s.sttCli
	s.mu.Unlock()
	if sttCli == nil {
		return nil
	}
	return sttCli.SendAudio(data)
}

// providerLabel names the backend currently producing audio, for the
// stream logger and frame metrics
func (s *Session) providerLabel() string {
	if f, ok := s.synth.(interface{ ActiveProvider() tts.ActiveProvider }); ok {
		return f.ActiveProvider().String()
	}
	return s.synth.Name()
}

// Say synthesizes one utterance through the failover stack into the
// session's sink
func (s *Session) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.id)
	}
	s.mu.Unlock()

	s.setState("speaking")
	s.emit(EventAgentSpeechStarted, text)

	inner, err := s.synth.Stream(ctx)
	if err != nil {
		observability.RecordError("session")
		return fmt.Errorf("failed to open synthesis stream: %w", err)
	}
	stream := tts.NewLoggedStream(inner, s.providerLabel)
	defer stream.Close()

	stream.PushText(text)
	stream.MarkSegmentEnd()

	for {
		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			observability.RecordError("session")
			return fmt.Errorf("synthesis failed: %w", err)
		}
		if err := s.sink.WriteFrame(frame.Data); err != nil {
			return fmt.Errorf("audio sink write failed: %w", err)
		}
	}

	s.emit(EventAgentSpeechCommitted, text)
	s.logger.Info().
		Int64("frames", stream.FrameCount()).
		Str("provider", s.providerLabel()).
		Msg("Utterance complete")
	return nil
}

// Close shuts the session down and releases the STT client and sink.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sttCli := s.sttCli
	loopDone := s.loopDone
	s.mu.Unlock()

	var firstErr error
	if sttCli != nil {
		if err := sttCli.Close(); err != nil {
			firstErr = err
		}
	}
	if loopDone != nil {
		// Closing the STT client closes its transcript channel, which
		// ends the loop; wait so no reply is synthesized past this point.
		<-loopDone
	}
	if err := s.sink.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	observability.RecordSessionEnd()
	s.setState("closed")
	s.logger.Info().Msg("Session closed")
	return firstErr
}
